package attestation

import (
	"sync"

	"github.com/zeebo/blake3"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// Mock accepts any non-empty document. The payload it vouches for is the raw document
// itself and the nonce is its blake3 hash, so a caller passing the same bytes as payload
// and attestation finalizes without an enclave.
type Mock struct {
	mu    sync.Mutex
	err   error // err is returned by every Verify while set
	calls int   // calls counts Verify invocations
}

// NewMock creates an accepting mock verifier.
func NewMock() *Mock {
	return &Mock{}
}

// Fail makes subsequent verifications return err. A nil err restores acceptance.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.err = err
}

// Calls returns how many times Verify ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// Verify implements Verifier.
func (m *Mock) Verify(raw []byte, _ protocol.Hash, _ address.Address, _ int64) (*Trusted, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return nil, protocol.ErrAttestationInvalid.Wrap("empty attestation")
	}

	return &Trusted{
		Payload: append([]byte(nil), raw...),
		Nonce:   blake3.Sum256(raw),
	}, nil
}

package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"Provability/internal/address"
	"Provability/internal/api"
	"Provability/internal/attestation"
	"Provability/internal/escrow"
	"Provability/internal/protocol"
	"Provability/internal/storage"
)

const testNow = int64(1_700_000_000)

// newNode starts an API server over a fresh engine and funds the given wallets.
func newNode(t *testing.T, clock *atomic.Int64, funded ...*Wallet) *Client {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := escrow.New(db, attestation.NewMock(), escrow.WithClock(clock.Load))

	allocs := make([]escrow.Allocation, len(funded))
	for i, w := range funded {
		allocs[i] = escrow.Allocation{Account: w.Address(), Balance: 1_000}
	}

	_, err = eng.ApplyGenesis([32]byte{7}, allocs)
	require.NoError(t, err)

	srv := httptest.NewServer(api.New("", eng).Handler())
	t.Cleanup(srv.Close)

	return New(srv.URL, WithHTTPClient(srv.Client()))
}

func newClock() *atomic.Int64 {
	c := &atomic.Int64{}
	c.Store(testNow)
	return c
}

func wallet(t *testing.T, b byte) *Wallet {
	t.Helper()

	w, err := WalletFromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)

	return w
}

func params(seed byte) escrow.CreateBountyParams {
	return escrow.CreateBountyParams{
		Seed:       [address.SeedSize]byte{seed},
		Amount:     250,
		DeadlineTs: testNow + 60,
		N:          10,
		Scale:      1,
	}
}

func TestWalletFromSeed(t *testing.T) {
	a := wallet(t, 1)
	b := wallet(t, 1)

	require.Equal(t, a.Address(), b.Address())
	require.Equal(t, bytes.Repeat([]byte{1}, 32), a.Seed())
	require.NotEqual(t, a.Address(), wallet(t, 2).Address())

	_, err := WalletFromSeed([]byte{1, 2, 3})
	require.Error(t, err)

	require.NotEqual(t, NewWallet().Address(), NewWallet().Address())
}

func TestNewAddsScheme(t *testing.T) {
	require.Equal(t, "http://127.0.0.1:8080", New("127.0.0.1:8080/").baseURL)
	require.Equal(t, "https://node.example", New("https://node.example").baseURL)
}

// TestBountyLifecycle creates, submits to and finalizes a bounty through the client.
func TestBountyLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	creator, solver := wallet(t, 1), wallet(t, 2)
	c := newNode(t, clock, creator)

	res, err := creator.CreateBounty(ctx, c, params(1))
	require.NoError(t, err)
	require.Equal(t, escrow.KindCreateBounty, res.Kind)
	require.Equal(t, creator.BountyAddress([address.SeedSize]byte{1}), res.Bounty.Address)

	bal, err := c.Balance(ctx, creator.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(750), bal)

	b, err := c.Bounty(ctx, res.Bounty.Address)
	require.NoError(t, err)
	require.Equal(t, protocol.BountyOpen, b.State)

	res, err = solver.Submit(ctx, c, b.Address, protocol.Hash{3}, "ipfs://preds")
	require.NoError(t, err)

	sub, err := c.Submission(ctx, res.Submission.Address)
	require.NoError(t, err)
	require.Equal(t, "ipfs://preds", sub.DataURI)

	payload := protocol.ExpectedResult(b, sub, true).Encode()

	res, err = solver.Finalize(ctx, c, b.Address, sub.Address, payload, payload)
	require.NoError(t, err)
	require.Equal(t, uint64(250), res.Paid)

	bal, err = c.Balance(ctx, solver.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(250), bal)
}

func TestReclaimAfterDeadline(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	creator := wallet(t, 1)
	c := newNode(t, clock, creator)

	res, err := creator.CreateBounty(ctx, c, params(1))
	require.NoError(t, err)

	_, err = creator.Reclaim(ctx, c, res.Bounty.Address)
	require.ErrorIs(t, err, protocol.ErrNotExpired)

	clock.Add(60)

	expired, err := c.Expired(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	_, err = creator.Reclaim(ctx, c, res.Bounty.Address)
	require.NoError(t, err)

	bal, err := c.Balance(ctx, creator.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), bal)
}

// TestProtocolErrors verifies error responses map back to protocol sentinels.
func TestProtocolErrors(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	creator, broke := wallet(t, 1), wallet(t, 2)
	c := newNode(t, clock, creator)

	_, err := c.Bounty(ctx, address.Address{9})
	require.ErrorIs(t, err, protocol.ErrBountyNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, protocol.Codespace, apiErr.Codespace)

	_, err = broke.CreateBounty(ctx, c, params(1))
	require.ErrorIs(t, err, protocol.ErrInsufficientFunds)

	_, err = creator.CreateBounty(ctx, c, params(1))
	require.NoError(t, err)

	_, err = creator.CreateBounty(ctx, c, params(1))
	require.ErrorIs(t, err, protocol.ErrBountyExists)
}

func TestListingWithoutIndex(t *testing.T) {
	clock := newClock()
	c := newNode(t, clock)

	_, err := c.BountiesByCreator(context.Background(), address.Address{1})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	require.Nil(t, apiErr.Unwrap())
}

func TestNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).Balance(context.Background(), address.Address{1})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadGateway, apiErr.Status)
	require.Equal(t, "bad gateway", apiErr.Message)
}

func TestCancelledContext(t *testing.T) {
	clock := newClock()
	c := newNode(t, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Balance(ctx, address.Address{1})
	require.ErrorIs(t, err, context.Canceled)
}

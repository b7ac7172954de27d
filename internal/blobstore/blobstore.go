// Package blobstore resolves the opaque data URIs recorded on submissions.
//
// The escrow never dereferences a URI; only the enclave host and the CLI fetch content,
// so a missing or unreachable blob never affects ledger state.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxBlobSize bounds what Get will read from any backend.
const MaxBlobSize = 64 << 20

var (
	// ErrUnsupportedScheme is returned for a URI no backend handles.
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")

	// ErrTooLarge is returned when a blob exceeds MaxBlobSize.
	ErrTooLarge = errors.New("blob too large")
)

// Backend stores blobs under one URI scheme.
type Backend interface {
	Scheme() string
	Get(ctx context.Context, uri string) ([]byte, error)
	Put(ctx context.Context, data []byte) (string, error)
}

// Store routes URIs to backends by scheme and writes new blobs to a default backend.
type Store struct {
	backends map[string]Backend // backends maps scheme to backend
	def      Backend            // def receives Put
}

// New creates a store. The first backend is the default for Put.
func New(def Backend, more ...Backend) *Store {
	s := &Store{backends: make(map[string]Backend), def: def}

	for _, b := range append([]Backend{def}, more...) {
		s.backends[b.Scheme()] = b
	}

	return s
}

// Get fetches the blob at uri.
func (s *Store) Get(ctx context.Context, uri string) ([]byte, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}

	b, ok := s.backends[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	return b.Get(ctx, uri)
}

// Put writes data to the default backend and returns its URI.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) > MaxBlobSize {
		return "", ErrTooLarge
	}

	return s.def.Put(ctx, data)
}

// readLimited reads r up to MaxBlobSize.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBlobSize+1))
	if err != nil {
		return nil, err
	}

	if len(data) > MaxBlobSize {
		return nil, ErrTooLarge
	}

	return data, nil
}

package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSBackend stores blobs through an IPFS daemon's HTTP API.
type IPFSBackend struct {
	sh *shell.Shell
}

// NewIPFSBackend connects to the daemon API at addr, e.g. "localhost:5001".
func NewIPFSBackend(addr string) *IPFSBackend {
	return &IPFSBackend{sh: shell.NewShell(addr)}
}

// Scheme returns "ipfs".
func (b *IPFSBackend) Scheme() string { return "ipfs" }

// Put adds and pins data. The URI is ipfs://<cid>.
func (b *IPFSBackend) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cid, err := b.sh.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("ipfs add:\n%w", err)
	}

	return "ipfs://" + cid, nil
}

// Get cats the content identified by uri.
func (b *IPFSBackend) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cid := strings.TrimPrefix(uri, "ipfs://")
	if cid == "" {
		return nil, fmt.Errorf("empty ipfs cid")
	}

	r, err := b.sh.Cat(cid)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat %s:\n%w", cid, err)
	}
	defer r.Close()

	return readLimited(r)
}

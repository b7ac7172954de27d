// Package client talks to an escrow node over its HTTP API.
package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// defaultTimeout bounds a single request when no http.Client is supplied.
const defaultTimeout = 15 * time.Second

// Client connects to an escrow node via HTTP.
type Client struct {
	baseURL string       // baseURL is the node API root (e.g. "http://127.0.0.1:8080")
	http    *http.Client // http performs the requests
}

// Option configures the Client during creation.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for the node at baseURL. A bare host:port gets an http scheme.
func New(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Wallet holds the ed25519 key that signs transactions. Its public key is the account address.
type Wallet struct {
	privKey ed25519.PrivateKey
}

// NewWallet creates a wallet with a random key.
func NewWallet() *Wallet {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	return &Wallet{privKey: priv}
}

// WalletFromSeed derives a wallet from a 32-byte ed25519 seed.
func WalletFromSeed(seed []byte) (*Wallet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	return &Wallet{privKey: ed25519.NewKeyFromSeed(seed)}, nil
}

// Address returns the account address of the wallet.
func (w *Wallet) Address() address.Address {
	var a address.Address
	copy(a[:], w.privKey.Public().(ed25519.PublicKey))
	return a
}

// Seed returns the private seed for persisting the wallet.
func (w *Wallet) Seed() []byte {
	return w.privKey.Seed()
}

// Bounty fetches a bounty record.
func (c *Client) Bounty(ctx context.Context, addr address.Address) (*protocol.Bounty, error) {
	var b protocol.Bounty
	if err := c.get(ctx, "/bounty/"+addr.String(), &b); err != nil {
		return nil, fmt.Errorf("get bounty:\n%w", err)
	}

	return &b, nil
}

// Submission fetches a submission record.
func (c *Client) Submission(ctx context.Context, addr address.Address) (*protocol.Submission, error) {
	var sub protocol.Submission
	if err := c.get(ctx, "/submission/"+addr.String(), &sub); err != nil {
		return nil, fmt.Errorf("get submission:\n%w", err)
	}

	return &sub, nil
}

// Balance returns the balance of an account. Unknown accounts hold zero.
func (c *Client) Balance(ctx context.Context, addr address.Address) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}

	if err := c.get(ctx, "/account/"+addr.String(), &resp); err != nil {
		return 0, fmt.Errorf("get balance:\n%w", err)
	}

	return resp.Balance, nil
}

// Expired lists open bounties past their deadline, at most limit of them.
func (c *Client) Expired(ctx context.Context, limit int) ([]*protocol.Bounty, error) {
	var out []*protocol.Bounty
	if err := c.get(ctx, "/bounties/expired?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, fmt.Errorf("list expired:\n%w", err)
	}

	return out, nil
}

// BountiesByCreator lists a creator's bounties from the node's metadata index.
func (c *Client) BountiesByCreator(ctx context.Context, creator address.Address) ([]*protocol.Bounty, error) {
	var out []*protocol.Bounty
	if err := c.get(ctx, "/bounties?creator="+url.QueryEscape(creator.String()), &out); err != nil {
		return nil, fmt.Errorf("list bounties:\n%w", err)
	}

	return out, nil
}

// Submissions lists the submissions to a bounty from the node's metadata index.
func (c *Client) Submissions(ctx context.Context, bounty address.Address) ([]*protocol.Submission, error) {
	var out []*protocol.Submission
	if err := c.get(ctx, "/bounty/"+bounty.String()+"/submissions", &out); err != nil {
		return nil, fmt.Errorf("list submissions:\n%w", err)
	}

	return out, nil
}

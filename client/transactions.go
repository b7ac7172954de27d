package client

import (
	"context"
	"encoding/hex"
	"fmt"

	"Provability/internal/address"
	"Provability/internal/escrow"
	"Provability/internal/protocol"
	"Provability/internal/tx"
)

// Result is the node's reply to an executed transaction.
type Result struct {
	Hash string `json:"hash"`
	escrow.Receipt
}

// CreateBounty locks p.Amount from the wallet into a new bounty.
func (w *Wallet) CreateBounty(ctx context.Context, c *Client, p escrow.CreateBountyParams) (*Result, error) {
	return w.send(ctx, c, escrow.CreateBountyCmd{Params: p})
}

// BountyAddress returns the address CreateBounty with seed will assign.
func (w *Wallet) BountyAddress(seed [address.SeedSize]byte) address.Address {
	return address.Bounty(w.Address(), seed)
}

// Submit commits to predictions for a bounty.
func (w *Wallet) Submit(ctx context.Context, c *Client, bounty address.Address, predsHash protocol.Hash, dataURI string) (*Result, error) {
	return w.send(ctx, c, escrow.SubmitCmd{Bounty: bounty, PredsHash: predsHash, DataURI: dataURI})
}

// Finalize presents an attested result for a submission. Anyone may finalize.
func (w *Wallet) Finalize(ctx context.Context, c *Client, bounty, submission address.Address, payload, attestation []byte) (*Result, error) {
	return w.send(ctx, c, escrow.FinalizeCmd{
		Bounty:      bounty,
		Submission:  submission,
		Payload:     payload,
		Attestation: attestation,
	})
}

// Reclaim returns the escrow of an expired bounty to its creator.
func (w *Wallet) Reclaim(ctx context.Context, c *Client, bounty address.Address) (*Result, error) {
	return w.send(ctx, c, escrow.ReclaimCmd{Bounty: bounty})
}

// send signs cmd and posts it, checking the echoed transaction hash.
func (w *Wallet) send(ctx context.Context, c *Client, cmd escrow.Command) (*Result, error) {
	txBytes, hash := tx.Build(w.privKey, uint8(cmd.Kind()), escrow.EncodeArgs(cmd))

	var res Result
	if err := c.postTx(ctx, txBytes, &res); err != nil {
		return nil, fmt.Errorf("%s:\n%w", cmd.Kind(), err)
	}

	if res.Hash != hex.EncodeToString(hash[:]) {
		return nil, fmt.Errorf("%s: node echoed hash %q", cmd.Kind(), res.Hash)
	}

	return &res, nil
}

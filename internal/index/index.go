// Package index mirrors committed escrow events into a queryable metadata store.
//
// The index is a read model for operators and the API. It is fed asynchronously after
// commit and may lag or miss events; the ledger remains the source of truth.
package index

import (
	"context"

	"Provability/internal/address"
	"Provability/internal/escrow"
	"Provability/internal/protocol"
)

// Indexer stores the latest public state of bounties and submissions.
type Indexer interface {
	// Apply upserts the records carried by ev. Record upserts are idempotent.
	Apply(ctx context.Context, ev escrow.Event) error

	// BountiesByCreator lists a creator's bounties, newest first.
	BountiesByCreator(ctx context.Context, creator address.Address) ([]*protocol.Bounty, error)

	// SubmissionsByBounty lists a bounty's submissions, oldest first.
	SubmissionsByBounty(ctx context.Context, bounty address.Address) ([]*protocol.Submission, error)

	Close() error
}

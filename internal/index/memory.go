package index

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"Provability/internal/address"
	"Provability/internal/escrow"
	"Provability/internal/protocol"
)

// Memory is an in-process Indexer.
type Memory struct {
	mu          sync.RWMutex
	bounties    map[address.Address]protocol.Bounty
	submissions map[address.Address]protocol.Submission
	events      int
}

// NewMemory creates an empty index.
func NewMemory() *Memory {
	return &Memory{
		bounties:    make(map[address.Address]protocol.Bounty),
		submissions: make(map[address.Address]protocol.Submission),
	}
}

// Apply records the event's bounty and submission.
func (m *Memory) Apply(_ context.Context, ev escrow.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Bounty != nil {
		m.bounties[ev.Bounty.Address] = *ev.Bounty
	}

	if ev.Submission != nil {
		m.submissions[ev.Submission.Address] = *ev.Submission
	}

	m.events++

	return nil
}

// BountiesByCreator lists a creator's bounties, newest first.
func (m *Memory) BountiesByCreator(_ context.Context, creator address.Address) ([]*protocol.Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*protocol.Bounty
	for _, b := range m.bounties {
		if b.Creator == creator {
			out = append(out, &b)
		}
	}

	slices.SortFunc(out, func(a, b *protocol.Bounty) int {
		if c := cmp.Compare(b.CreatedTs, a.CreatedTs); c != 0 {
			return c
		}
		return slices.Compare(a.Address[:], b.Address[:])
	})

	return out, nil
}

// SubmissionsByBounty lists a bounty's submissions, oldest first.
func (m *Memory) SubmissionsByBounty(_ context.Context, bounty address.Address) ([]*protocol.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*protocol.Submission
	for _, s := range m.submissions {
		if s.Bounty == bounty {
			out = append(out, &s)
		}
	}

	slices.SortFunc(out, func(a, b *protocol.Submission) int {
		if c := cmp.Compare(a.CreatedTs, b.CreatedTs); c != 0 {
			return c
		}
		return slices.Compare(a.Address[:], b.Address[:])
	})

	return out, nil
}

// Events returns how many events were applied.
func (m *Memory) Events() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.events
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

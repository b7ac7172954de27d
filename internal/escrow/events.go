package escrow

import "Provability/internal/protocol"

// EventKind names a committed ledger mutation.
type EventKind uint8

const (
	EventBountyCreated EventKind = iota + 1
	EventSubmitted
	EventSubmissionRejected
	EventBountyFinalized
	EventBountyReclaimed
)

// String returns the event name used in logs and the metadata index.
func (k EventKind) String() string {
	switch k {
	case EventBountyCreated:
		return "bounty_created"
	case EventSubmitted:
		return "submitted"
	case EventSubmissionRejected:
		return "submission_rejected"
	case EventBountyFinalized:
		return "bounty_finalized"
	case EventBountyReclaimed:
		return "bounty_reclaimed"
	default:
		return "unknown"
	}
}

// Event carries the public state of the records an operation just committed.
// Submission is nil for bounty-only events. Records are copies owned by the receiver.
type Event struct {
	Kind       EventKind
	Bounty     *protocol.Bounty
	Submission *protocol.Submission
	At         int64 // At is the ledger time of the mutation
}

// EventSink receives events after commit. Publish must not block the engine and its
// failures never affect ledger state.
type EventSink interface {
	Publish(ev Event)
}

// emit publishes a copy of the committed records.
func (e *Engine) emit(kind EventKind, b *protocol.Bounty, sub *protocol.Submission, at int64) {
	if e.sink == nil {
		return
	}

	ev := Event{Kind: kind, At: at}

	if b != nil {
		bc := *b
		ev.Bounty = &bc
	}

	if sub != nil {
		sc := *sub
		ev.Submission = &sc
	}

	e.sink.Publish(ev)
}

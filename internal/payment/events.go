package payment

import (
	"context"
	"time"
)

type EventKind string

const (
	EventCreated        EventKind = "created"
	EventFieldAccepted  EventKind = "field_accepted"
	EventReadyForReview EventKind = "ready_for_review"
	EventClaimed        EventKind = "claimed"
	EventReleased       EventKind = "released"
	EventApproved       EventKind = "approved"
	EventRejected       EventKind = "rejected"
	EventResubmitted    EventKind = "resubmitted"
)

type Audience string

const (
	AudienceNone       Audience = ""
	AudienceSubmitter  Audience = "submitter"
	AudienceModerators Audience = "moderators"
)

// Event is emitted after a transition has been committed.
type Event struct {
	Kind      EventKind `json:"kind"`
	Request   Request   `json:"request"`
	Moderator int64     `json:"moderator,omitempty"`
	Field     Field     `json:"field,omitempty"`
	At        time.Time `json:"at"`
}

// Audience reports who has to see the event. Created and FieldAccepted are
// audit-only and are not delivered.
func (e Event) Audience() Audience {
	switch e.Kind {
	case EventReadyForReview, EventClaimed, EventReleased, EventResubmitted:
		return AudienceModerators
	case EventApproved, EventRejected:
		return AudienceSubmitter
	}

	return AudienceNone
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// HistoryEntry is one row of the audit trail of a request.
type HistoryEntry struct {
	ID        string
	RequestID string
	Kind      EventKind
	Actor     int64
	Field     Field
	Status    Status
	At        time.Time
}

// Store is the durable request table. Implementations must make every
// method atomic for one request id.
type Store interface {
	// Create inserts r. It returns ErrConflict when the submitter already
	// has an active request.
	Create(ctx context.Context, r *Request, entry HistoryEntry) error
	Get(ctx context.Context, id string) (*Request, error)
	ActiveFor(ctx context.Context, submitter int64) (*Request, error)
	NextPending(ctx context.Context) (*Request, error)
	// ClaimedBy lists the pending requests currently held by moderator,
	// oldest first.
	ClaimedBy(ctx context.Context, moderator int64) ([]*Request, error)
	// Save writes r if the stored version still equals prevVersion and
	// appends entry in the same transaction. Otherwise it returns
	// ErrVersionConflict and writes nothing.
	Save(ctx context.Context, r *Request, prevVersion int64, entry HistoryEntry) error
	// Claim sets the claimant only if the request is pending review and
	// unclaimed. It returns the row as read back in the same transaction
	// and reports whether the write happened.
	Claim(ctx context.Context, id string, moderator int64, at time.Time, entry HistoryEntry) (*Request, bool, error)
	History(ctx context.Context, id string) ([]HistoryEntry, error)
}

// FileRemover deletes stored proof files.
type FileRemover interface {
	DeleteFile(path string) error
}

// Recorder observes the outcome of every service operation.
type Recorder interface {
	Record(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, error) {}

// Package payment holds the lifecycle of payment verification requests:
// collection of the four fields, moderator claim arbitration and the
// single-field correction loop.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxWriteAttempts bounds the retries of a conditional write that lost
// against a concurrent writer of the same request.
const maxWriteAttempts = 5

type Options struct {
	Rules Rules
	// MaxCorrections is the number of reopen cycles allowed before a
	// rejection becomes final. Zero means unlimited.
	MaxCorrections int
	Notifier       Notifier
	Recorder       Recorder
	// Files removes a proof file once a rejection has cleared it.
	Files  FileRemover
	Logger *zap.Logger
}

type Service struct {
	store          Store
	rules          Rules
	maxCorrections int
	notifier       Notifier
	recorder       Recorder
	files          FileRemover
	logger         *zap.Logger
	now            func() time.Time
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:          store,
		rules:          opts.Rules,
		maxCorrections: opts.MaxCorrections,
		notifier:       opts.Notifier,
		recorder:       opts.Recorder,
		files:          opts.Files,
		logger:         opts.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}

	if s.rules.Catalog == nil {
		s.rules = DefaultRules()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	return s
}

func (s *Service) Rules() Rules {
	return s.rules
}

// Begin opens a new request for submitter in the collecting state.
func (s *Service) Begin(ctx context.Context, submitter int64) (req *Request, err error) {
	defer func() { s.recorder.Record("begin", err) }()

	now := s.now()
	req = &Request{
		ID:         uuid.NewString(),
		Submitter:  submitter,
		Status:     StatusCollecting,
		ActiveStep: FieldIdentifier,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	entry := historyEntry(Event{Kind: EventCreated, Request: *req, At: now})
	if err := s.store.Create(ctx, req, entry); err != nil {
		return nil, err
	}

	s.logger.Info("request opened",
		zap.String("request_id", req.ID),
		zap.Int64("submitter", submitter),
	)

	return req, nil
}

// SubmitField stores a value for the active step of a collecting or
// correcting request.
func (s *Service) SubmitField(ctx context.Context, id string, f Field, v Value) (req *Request, err error) {
	defer func() { s.recorder.Record("submit_field", err) }()

	req, err = s.update(ctx, id, func(r *Request) (Event, error) {
		kind, err := r.submit(s.rules, f, v)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Field: f}, nil
	})

	return req, err
}

// Claim gives moderator exclusive review rights on a pending request. Of
// any number of concurrent claims exactly one succeeds.
func (s *Service) Claim(ctx context.Context, id string, moderator int64) (req *Request, err error) {
	defer func() { s.recorder.Record("claim", err) }()

	now := s.now()
	entry := HistoryEntry{
		ID:        newEventID(),
		RequestID: id,
		Kind:      EventClaimed,
		Actor:     moderator,
		Status:    StatusPendingReview,
		At:        now,
	}

	req, won, err := s.store.Claim(ctx, id, moderator, now, entry)
	if err != nil {
		return nil, err
	}

	if !won {
		if req.Status != StatusPendingReview {
			return nil, ErrInvalidState
		}
		// A repeated claim by the holder succeeds so a lost reply can be
		// retried.
		if req.holdsClaim(moderator) {
			return req, nil
		}
		return nil, ErrAlreadyClaimed
	}

	s.emit(ctx, Event{Kind: EventClaimed, Request: *req, Moderator: moderator, At: now})

	return req, nil
}

func (s *Service) Approve(ctx context.Context, id string, moderator int64) (req *Request, err error) {
	defer func() { s.recorder.Record("approve", err) }()

	return s.update(ctx, id, func(r *Request) (Event, error) {
		if err := r.approve(moderator); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventApproved, Moderator: moderator}, nil
	})
}

// Reject reopens field for correction. Only the claimant may reject.
func (s *Service) Reject(ctx context.Context, id string, moderator int64, f Field) (req *Request, err error) {
	defer func() { s.recorder.Record("reject", err) }()

	var dropped *Attachment

	req, err = s.update(ctx, id, func(r *Request) (Event, error) {
		if !r.holdsClaim(moderator) {
			return Event{}, ErrNotClaimant
		}
		dropped = r.Proof
		if err := r.reopen(f, s.maxCorrections); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventRejected, Moderator: moderator, Field: f}, nil
	})
	if err != nil {
		return nil, err
	}

	s.discardProof(req, dropped)

	return req, nil
}

// Reopen is the correction entry point for system-initiated rejections that
// do not go through a moderator claim.
func (s *Service) Reopen(ctx context.Context, id string, f Field) (req *Request, err error) {
	defer func() { s.recorder.Record("reopen", err) }()

	var dropped *Attachment

	req, err = s.update(ctx, id, func(r *Request) (Event, error) {
		dropped = r.Proof
		if err := r.reopen(f, s.maxCorrections); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventRejected, Field: f}, nil
	})
	if err != nil {
		return nil, err
	}

	s.discardProof(req, dropped)

	return req, nil
}

// Unclaim returns a claimed request to the review pool.
func (s *Service) Unclaim(ctx context.Context, id string, moderator int64) (req *Request, err error) {
	defer func() { s.recorder.Record("unclaim", err) }()

	return s.update(ctx, id, func(r *Request) (Event, error) {
		if err := r.unclaim(moderator); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventReleased, Moderator: moderator}, nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ActiveFor returns the active request of submitter or ErrNotFound.
func (s *Service) ActiveFor(ctx context.Context, submitter int64) (*Request, error) {
	return s.store.ActiveFor(ctx, submitter)
}

// NextPending returns the oldest unclaimed request waiting for review, or
// ErrNotFound when the queue is empty.
func (s *Service) NextPending(ctx context.Context) (*Request, error) {
	return s.store.NextPending(ctx)
}

// ClaimedBy lists the requests moderator has claimed and not yet decided.
func (s *Service) ClaimedBy(ctx context.Context, moderator int64) ([]*Request, error) {
	return s.store.ClaimedBy(ctx, moderator)
}

func (s *Service) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	return s.store.History(ctx, id)
}

// update applies fn to a fresh copy of the request and persists it with a
// version check, retrying when a concurrent writer got there first.
func (s *Service) update(ctx context.Context, id string, fn func(r *Request) (Event, error)) (*Request, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		next := cur.Clone()
		ev, err := fn(next)
		if err != nil {
			return nil, err
		}

		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()
		ev.Request = *next
		ev.At = next.UpdatedAt

		err = s.store.Save(ctx, next, cur.Version, historyEntry(ev))
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Debug("retrying request write",
				zap.String("request_id", id),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(ctx, ev)

		return next, nil
	}

	return nil, fmt.Errorf("Service.update %s: %w", id, ErrVersionConflict)
}

func (s *Service) emit(ctx context.Context, ev Event) {
	s.logger.Info("request transition",
		zap.String("request_id", ev.Request.ID),
		zap.String("event", string(ev.Kind)),
		zap.String("status", string(ev.Request.Status)),
	)

	if s.notifier == nil || ev.Audience() == AudienceNone {
		return
	}

	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("notification failed",
			zap.String("request_id", ev.Request.ID),
			zap.String("event", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

// discardProof deletes the file of a proof that the committed write cleared.
// A final rejection keeps the proof and its file.
func (s *Service) discardProof(req *Request, prev *Attachment) {
	if s.files == nil || prev == nil || req.Proof != nil {
		return
	}

	if err := s.files.DeleteFile(prev.Ref); err != nil {
		s.logger.Warn("cannot delete rejected proof",
			zap.String("request_id", req.ID),
			zap.String("ref", prev.Ref),
			zap.Error(err),
		)
	}
}

func historyEntry(ev Event) HistoryEntry {
	actor := ev.Moderator
	if actor == 0 {
		actor = ev.Request.Submitter
	}

	return HistoryEntry{
		ID:        newEventID(),
		RequestID: ev.Request.ID,
		Kind:      ev.Kind,
		Actor:     actor,
		Field:     ev.Field,
		Status:    ev.Request.Status,
		At:        ev.At,
	}
}

// newEventID returns a time-ordered id so that history entries written in
// the same millisecond keep their order.
func newEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}

package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

func setupSQLite(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, RunMigrations(database.Conn))

	return database.Conn
}

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return sqlx.NewDb(conn, "postgres"), mock
}

func newRequest(id string, submitter int64) *payment.Request {
	now := time.UnixMilli(time.Now().UnixMilli()).UTC()

	return &payment.Request{
		ID:         id,
		Submitter:  submitter,
		Status:     payment.StatusCollecting,
		ActiveStep: payment.FieldIdentifier,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func entryFor(req *payment.Request, id string, kind payment.EventKind) payment.HistoryEntry {
	return payment.HistoryEntry{
		ID:        id,
		RequestID: req.ID,
		Kind:      kind,
		Actor:     req.Submitter,
		Status:    req.Status,
		At:        req.UpdatedAt,
	}
}

func TestPaymentRequestRepository_RoundTrip(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))
	ctx := context.Background()

	req := newRequest("req-1", 100)
	require.NoError(t, repo.Create(ctx, req, entryFor(req, "ev-1", payment.EventCreated)))

	identifier := "123456789"
	amount := int64(5000)
	channel := "KBZ"
	claimant := int64(9)
	claimedAt := req.CreatedAt.Add(time.Minute)

	next := req.Clone()
	next.Identifier = &identifier
	next.Amount = &amount
	next.Channel = &channel
	next.Proof = &payment.Attachment{Kind: payment.AttachmentDocument, Ref: "doc_files/a.pdf", MimeType: "application/pdf"}
	next.Status = payment.StatusPendingReview
	next.ActiveStep = payment.FieldNone
	next.Claimant = &claimant
	next.ClaimedAt = &claimedAt
	next.Version = 2

	require.NoError(t, repo.Save(ctx, next, 1, entryFor(next, "ev-2", payment.EventReadyForReview)))

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestPaymentRequestRepository_CreateConflict(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))
	ctx := context.Background()

	first := newRequest("req-1", 100)
	require.NoError(t, repo.Create(ctx, first, entryFor(first, "ev-1", payment.EventCreated)))

	second := newRequest("req-2", 100)
	err := repo.Create(ctx, second, entryFor(second, "ev-2", payment.EventCreated))
	require.ErrorIs(t, err, payment.ErrConflict)

	// The failed create left no audit row behind.
	history, err := repo.History(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// A terminal request frees the slot.
	done := first.Clone()
	done.Status = payment.StatusApproved
	done.Version = 2
	require.NoError(t, repo.Save(ctx, done, 1, entryFor(done, "ev-3", payment.EventApproved)))

	require.NoError(t, repo.Create(ctx, second, entryFor(second, "ev-4", payment.EventCreated)))
}

func TestPaymentRequestRepository_SaveVersionConflict(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))
	ctx := context.Background()

	req := newRequest("req-1", 100)
	require.NoError(t, repo.Create(ctx, req, entryFor(req, "ev-1", payment.EventCreated)))

	next := req.Clone()
	next.Version = 2
	require.NoError(t, repo.Save(ctx, next, 1, entryFor(next, "ev-2", payment.EventFieldAccepted)))

	stale := req.Clone()
	stale.Status = payment.StatusRejected
	stale.Version = 2
	err := repo.Save(ctx, stale, 1, entryFor(stale, "ev-3", payment.EventRejected))
	require.ErrorIs(t, err, payment.ErrVersionConflict)

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCollecting, got.Status)

	history, err := repo.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPaymentRequestRepository_Claim(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))
	ctx := context.Background()

	req := newRequest("req-1", 100)
	require.NoError(t, repo.Create(ctx, req, entryFor(req, "ev-1", payment.EventCreated)))

	at := time.Now()
	_, won, err := repo.Claim(ctx, req.ID, 1, at, entryFor(req, "ev-2", payment.EventClaimed))
	require.NoError(t, err)
	assert.False(t, won, "collecting requests cannot be claimed")

	pending := req.Clone()
	pending.Status = payment.StatusPendingReview
	pending.Version = 2
	require.NoError(t, repo.Save(ctx, pending, 1, entryFor(pending, "ev-3", payment.EventReadyForReview)))

	claimed, won, err := repo.Claim(ctx, req.ID, 1, at, entryFor(pending, "ev-4", payment.EventClaimed))
	require.NoError(t, err)
	assert.True(t, won)
	require.NotNil(t, claimed.Claimant)
	assert.Equal(t, int64(1), *claimed.Claimant)

	current, won, err := repo.Claim(ctx, req.ID, 2, at, entryFor(pending, "ev-5", payment.EventClaimed))
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, int64(1), *current.Claimant, "the losing claim reads the winner back")

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *got.Claimant)
	assert.Equal(t, at.UnixMilli(), got.ClaimedAt.UnixMilli())
	assert.Equal(t, int64(3), got.Version)

	history, err := repo.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, payment.EventClaimed, history[2].Kind)
}

func TestPaymentRequestRepository_NextPending(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))
	ctx := context.Background()

	_, err := repo.NextPending(ctx)
	require.ErrorIs(t, err, payment.ErrNotFound)

	base := time.UnixMilli(time.Now().UnixMilli()).UTC()
	for i, id := range []string{"older", "newer"} {
		req := newRequest(id, int64(100+i))
		req.Status = payment.StatusPendingReview
		req.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, req, entryFor(req, "ev-"+id, payment.EventCreated)))
	}

	next, err := repo.NextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "older", next.ID)

	_, won, err := repo.Claim(ctx, "older", 1, time.Now(), payment.HistoryEntry{ID: "ev-claim", RequestID: "older", Kind: payment.EventClaimed, Actor: 1})
	require.NoError(t, err)
	require.True(t, won)

	next, err = repo.NextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newer", next.ID)
}

func TestPaymentRequestRepository_ClaimedBy(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))
	ctx := context.Background()

	for i, id := range []string{"first", "second", "third"} {
		req := newRequest(id, int64(100+i))
		req.Status = payment.StatusPendingReview
		require.NoError(t, repo.Create(ctx, req, entryFor(req, "ev-"+id, payment.EventCreated)))
	}

	at := time.Now()
	for i, c := range []struct {
		id        string
		moderator int64
	}{{"first", 1}, {"second", 2}, {"third", 1}} {
		_, won, err := repo.Claim(ctx, c.id, c.moderator, at.Add(time.Duration(i)*time.Second),
			payment.HistoryEntry{ID: "claim-" + c.id, RequestID: c.id, Kind: payment.EventClaimed, Actor: c.moderator})
		require.NoError(t, err)
		require.True(t, won)
	}

	held, err := repo.ClaimedBy(ctx, 1)
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, "first", held[0].ID)
	assert.Equal(t, "third", held[1].ID)

	held, err = repo.ClaimedBy(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestPaymentRequestRepository_ClaimMissing(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))

	_, _, err := repo.Claim(context.Background(), "missing", 1, time.Now(), payment.HistoryEntry{ID: "ev", RequestID: "missing"})
	require.ErrorIs(t, err, payment.ErrNotFound)
}

func TestPaymentRequestRepository_NotFound(t *testing.T) {
	repo := NewPaymentRequestRepository(setupSQLite(t))
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, payment.ErrNotFound)

	_, err = repo.ActiveFor(ctx, 100)
	require.ErrorIs(t, err, payment.ErrNotFound)
}

func TestPaymentRequestRepository_CreateUniqueViolationPostgres(t *testing.T) {
	conn, mock := setupMockDB(t)
	repo := NewPaymentRequestRepository(conn)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_requests").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	req := newRequest("req-1", 100)
	err := repo.Create(context.Background(), req, entryFor(req, "ev-1", payment.EventCreated))

	require.ErrorIs(t, err, payment.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRequestRepository_SaveRollsBackOnEventFailure(t *testing.T) {
	conn, mock := setupMockDB(t)
	repo := NewPaymentRequestRepository(conn)

	req := newRequest("req-1", 100)
	req.Version = 2

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payment_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO request_events`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), req, 1, entryFor(req, "ev-1", payment.EventFieldAccepted))

	require.Error(t, err)
	assert.NotErrorIs(t, err, payment.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRequestRepository_SaveStaleVersionPostgres(t *testing.T) {
	conn, mock := setupMockDB(t)
	repo := NewPaymentRequestRepository(conn)

	req := newRequest("req-1", 100)
	req.Version = 5

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payment_requests .* WHERE id = \$14 AND version = \$15`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), req, 4, entryFor(req, "ev-1", payment.EventFieldAccepted))

	require.ErrorIs(t, err, payment.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

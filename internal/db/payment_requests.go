package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

type PaymentRequest struct {
	ID          string  `db:"id"`
	Submitter   int64   `db:"submitter"`
	Identifier  *string `db:"identifier"`
	Amount      *int64  `db:"amount"`
	Channel     *string `db:"channel"`
	ProofKind   *string `db:"proof_kind"`
	ProofRef    *string `db:"proof_ref"`
	ProofMime   *string `db:"proof_mime"`
	Status      string  `db:"status"`
	ActiveStep  string  `db:"active_step"`
	Claimant    *int64  `db:"claimant"`
	ClaimedAt   *int64  `db:"claimed_at"`
	Corrections int     `db:"corrections"`
	Version     int64   `db:"version"`
	CreatedAt   int64   `db:"created_at"`
	UpdatedAt   int64   `db:"updated_at"`
}

type RequestEvent struct {
	ID        string `db:"id"`
	RequestID string `db:"request_id"`
	Kind      string `db:"kind"`
	Actor     int64  `db:"actor"`
	Field     string `db:"field"`
	Status    string `db:"status"`
	CreatedAt int64  `db:"created_at"`
}

const requestColumns = `
	id, submitter, identifier, amount, channel, proof_kind, proof_ref, proof_mime,
	status, active_step, claimant, claimed_at, corrections, version, created_at, updated_at`

// PaymentRequestRepository implements payment.Store on top of sqlx. Queries
// are written with ? placeholders and rebound for the driver in use.
type PaymentRequestRepository struct {
	db *sqlx.DB
}

func NewPaymentRequestRepository(db *sqlx.DB) *PaymentRequestRepository {
	return &PaymentRequestRepository{
		db: db,
	}
}

var _ payment.Store = (*PaymentRequestRepository)(nil)

func (r *PaymentRequestRepository) Create(ctx context.Context, req *payment.Request, entry payment.HistoryEntry) error {
	row := toRow(req)

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
		    INSERT INTO payment_requests (`+requestColumns+`)
			VALUES (:id, :submitter, :identifier, :amount, :channel, :proof_kind, :proof_ref, :proof_mime,
			:status, :active_step, :claimant, :claimed_at, :corrections, :version, :created_at, :updated_at)
		`, row)
		if err != nil {
			return err
		}

		return insertEvent(ctx, tx, entry)
	})

	if isUniqueViolation(err) {
		return payment.ErrConflict
	}

	if err != nil {
		return fmt.Errorf("PaymentRequestRepository.Create: %w", err)
	}

	return nil
}

func (r *PaymentRequestRepository) Get(ctx context.Context, id string) (*payment.Request, error) {
	var row PaymentRequest

	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
	    SELECT `+requestColumns+` FROM payment_requests
		WHERE id = ?
	`), id)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("PaymentRequestRepository.Get: %w", err)
	}

	return row.toDomain(), nil
}

func (r *PaymentRequestRepository) ActiveFor(ctx context.Context, submitter int64) (*payment.Request, error) {
	var row PaymentRequest

	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
	    SELECT `+requestColumns+` FROM payment_requests
		WHERE submitter = ? AND status IN ('collecting', 'pending_review', 'rejected_correcting')
	`), submitter)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("PaymentRequestRepository.ActiveFor: %w", err)
	}

	return row.toDomain(), nil
}

func (r *PaymentRequestRepository) NextPending(ctx context.Context) (*payment.Request, error) {
	var row PaymentRequest

	err := r.db.GetContext(ctx, &row, `
	    SELECT `+requestColumns+` FROM payment_requests
		WHERE status = 'pending_review' AND claimant IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("PaymentRequestRepository.NextPending: %w", err)
	}

	return row.toDomain(), nil
}

func (r *PaymentRequestRepository) ClaimedBy(ctx context.Context, moderator int64) ([]*payment.Request, error) {
	var rows []PaymentRequest

	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
	    SELECT `+requestColumns+` FROM payment_requests
		WHERE status = 'pending_review' AND claimant = ?
		ORDER BY claimed_at ASC
	`), moderator)

	if err != nil {
		return nil, fmt.Errorf("PaymentRequestRepository.ClaimedBy: %w", err)
	}

	requests := make([]*payment.Request, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, row.toDomain())
	}

	return requests, nil
}

func (r *PaymentRequestRepository) Save(ctx context.Context, req *payment.Request, prevVersion int64, entry payment.HistoryEntry) error {
	row := toRow(req)

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
		    UPDATE payment_requests
			SET identifier = ?, amount = ?, channel = ?, proof_kind = ?, proof_ref = ?, proof_mime = ?,
			status = ?, active_step = ?, claimant = ?, claimed_at = ?, corrections = ?,
			version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`),
			row.Identifier, row.Amount, row.Channel, row.ProofKind, row.ProofRef, row.ProofMime,
			row.Status, row.ActiveStep, row.Claimant, row.ClaimedAt, row.Corrections,
			row.Version, row.UpdatedAt,
			row.ID, prevVersion,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			return payment.ErrVersionConflict
		}

		return insertEvent(ctx, tx, entry)
	})

	if err != nil {
		return fmt.Errorf("PaymentRequestRepository.Save: %w", err)
	}

	return nil
}

// Claim is the single conditional write that arbitrates between moderators.
// The row is read back inside the transaction, so a committed claim is
// never reported as a failure.
func (r *PaymentRequestRepository) Claim(ctx context.Context, id string, moderator int64, at time.Time, entry payment.HistoryEntry) (*payment.Request, bool, error) {
	var (
		row PaymentRequest
		won bool
	)

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
		    UPDATE payment_requests
			SET claimant = ?, claimed_at = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND status = 'pending_review' AND claimant IS NULL
		`), moderator, at.UnixMilli(), at.UnixMilli(), id)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n > 0 {
			won = true
			if err := insertEvent(ctx, tx, entry); err != nil {
				return err
			}
		}

		return tx.GetContext(ctx, &row, tx.Rebind(`
		    SELECT `+requestColumns+` FROM payment_requests
			WHERE id = ?
		`), id)
	})

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, payment.ErrNotFound
	}

	if err != nil {
		return nil, false, fmt.Errorf("PaymentRequestRepository.Claim: %w", err)
	}

	return row.toDomain(), won, nil
}

func (r *PaymentRequestRepository) History(ctx context.Context, id string) ([]payment.HistoryEntry, error) {
	var rows []RequestEvent

	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
	    SELECT id, request_id, kind, actor, field, status, created_at
		FROM request_events
		WHERE request_id = ?
		ORDER BY created_at ASC, id ASC
	`), id)

	if err != nil {
		return nil, fmt.Errorf("PaymentRequestRepository.History: %w", err)
	}

	entries := make([]payment.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, payment.HistoryEntry{
			ID:        row.ID,
			RequestID: row.RequestID,
			Kind:      payment.EventKind(row.Kind),
			Actor:     row.Actor,
			Field:     payment.Field(row.Field),
			Status:    payment.Status(row.Status),
			At:        time.UnixMilli(row.CreatedAt).UTC(),
		})
	}

	return entries, nil
}

func (r *PaymentRequestRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, e payment.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
	    INSERT INTO request_events (id, request_id, kind, actor, field, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.RequestID, string(e.Kind), e.Actor, string(e.Field), string(e.Status), e.At.UnixMilli())

	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT
	}

	return false
}

func toRow(req *payment.Request) PaymentRequest {
	row := PaymentRequest{
		ID:          req.ID,
		Submitter:   req.Submitter,
		Identifier:  req.Identifier,
		Amount:      req.Amount,
		Channel:     req.Channel,
		Status:      string(req.Status),
		ActiveStep:  string(req.ActiveStep),
		Claimant:    req.Claimant,
		Corrections: req.Corrections,
		Version:     req.Version,
		CreatedAt:   req.CreatedAt.UnixMilli(),
		UpdatedAt:   req.UpdatedAt.UnixMilli(),
	}

	if req.Proof != nil {
		row.ProofKind = pointer.ToString(string(req.Proof.Kind))
		row.ProofRef = pointer.ToString(req.Proof.Ref)
		row.ProofMime = pointer.ToStringOrNil(req.Proof.MimeType)
	}

	if req.ClaimedAt != nil {
		row.ClaimedAt = pointer.ToInt64(req.ClaimedAt.UnixMilli())
	}

	return row
}

func (row PaymentRequest) toDomain() *payment.Request {
	req := &payment.Request{
		ID:          row.ID,
		Submitter:   row.Submitter,
		Identifier:  row.Identifier,
		Amount:      row.Amount,
		Channel:     row.Channel,
		Status:      payment.Status(row.Status),
		ActiveStep:  payment.Field(row.ActiveStep),
		Claimant:    row.Claimant,
		Corrections: row.Corrections,
		Version:     row.Version,
		CreatedAt:   time.UnixMilli(row.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(row.UpdatedAt).UTC(),
	}

	if row.ProofRef != nil {
		req.Proof = &payment.Attachment{
			Kind:     payment.AttachmentKind(pointer.GetString(row.ProofKind)),
			Ref:      *row.ProofRef,
			MimeType: pointer.GetString(row.ProofMime),
		}
	}

	if row.ClaimedAt != nil {
		req.ClaimedAt = pointer.ToTime(time.UnixMilli(*row.ClaimedAt).UTC())
	}

	return req
}

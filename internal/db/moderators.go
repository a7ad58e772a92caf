package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Moderator struct {
	ChatID    int64 `db:"chat_id"`
	CreatedAt int64 `db:"created_at"`
}

type ModeratorRepository struct {
	db *sqlx.DB
}

func NewModeratorRepository(db *sqlx.DB) *ModeratorRepository {
	return &ModeratorRepository{
		db: db,
	}
}

func (r *ModeratorRepository) GetAll(ctx context.Context) ([]Moderator, error) {
	var moderators []Moderator

	err := r.db.SelectContext(ctx, &moderators, `
	    SELECT chat_id, created_at FROM moderators
		ORDER BY created_at ASC
	`)

	if err != nil {
		return nil, fmt.Errorf("ModeratorRepository.GetAll: %w", err)
	}

	return moderators, nil
}

// ChatIDs returns the chat ids of all moderators.
func (r *ModeratorRepository) ChatIDs(ctx context.Context) ([]int64, error) {
	moderators, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(moderators))
	for _, m := range moderators {
		ids = append(ids, m.ChatID)
	}

	return ids, nil
}

func (r *ModeratorRepository) Create(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	    INSERT INTO moderators (chat_id, created_at) VALUES (?, ?)
		ON CONFLICT (chat_id) DO NOTHING
	`), chatID, time.Now().UnixMilli())

	if err != nil {
		return fmt.Errorf("ModeratorRepository.Create: %w", err)
	}

	return nil
}

func (r *ModeratorRepository) IsModerator(ctx context.Context, chatID int64) (bool, error) {
	var n int

	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
	    SELECT COUNT(*) FROM moderators
		WHERE chat_id = ?
	`), chatID)

	if err != nil {
		return false, fmt.Errorf("ModeratorRepository.IsModerator: %w", err)
	}

	return n > 0, nil
}

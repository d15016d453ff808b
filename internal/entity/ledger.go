package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"actionhub/internal/models"
)

var (
	ErrUserNotFound = errors.New("USER_NOT_FOUND")
)

// Ledger tracks per-user collaborator token spend. Every classified turn
// and every remote execution reports its usage here, so billing sees one
// number per user regardless of which node burned the tokens.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// AddUsage adds tokens to the user's running total, creating the ledger
// row on first use.
func (l *Ledger) AddUsage(ctx context.Context, userID string, tokens int) error {
	if tokens <= 0 || userID == "" {
		return nil
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO users (id, tokens_used)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET tokens_used = users.tokens_used + EXCLUDED.tokens_used`,
		userID, tokens,
	)
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

func (l *Ledger) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	var email, name, node sql.NullString

	err := l.db.QueryRowContext(ctx, `
		SELECT id, email, name, node, tokens_used, created_at
		FROM users
		WHERE id = $1`, userID).Scan(
		&user.ID, &email, &name, &node, &user.TokensUsed, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, err
	}

	user.Email = email.String
	user.Name = name.String
	user.Node = node.String
	return &user, nil
}

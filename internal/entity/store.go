package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"actionhub/internal/models"
)

var (
	ErrRecordNotFound = errors.New("ENTITY_NOT_FOUND")
)

// Store persists entity records in Postgres. Declared fields are kept as
// a JSONB document so every class shares one table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, record *models.EntityRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Fields == nil {
		record.Fields = map[string]interface{}{}
	}

	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, class, collection, user_id, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.Class, record.Collection, record.UserID, fields,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.EntityRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, class, collection, user_id, fields, created_at, updated_at
		FROM entities
		WHERE id = $1`, id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

// FindBySubstring is the resolution fallback when full-text search finds
// nothing: a case-insensitive match anywhere in the stored field document.
func (s *Store) FindBySubstring(ctx context.Context, class, userID, text string, limit int) ([]models.EntityRecord, error) {
	if limit <= 0 {
		limit = defaultFindLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, class, collection, user_id, fields, created_at, updated_at
		FROM entities
		WHERE class = $1 AND user_id = $2 AND fields::text ILIKE '%' || $3 || '%'
		ORDER BY updated_at DESC
		LIMIT $4`, class, userID, text, limit)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var results []models.EntityRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *record)
	}
	return results, rows.Err()
}

func (s *Store) Update(ctx context.Context, record *models.EntityRecord) error {
	record.UpdatedAt = time.Now().UTC()

	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET fields = $1, updated_at = $2
		WHERE id = $3`,
		fields, record.UpdatedAt, record.ID,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, record.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.EntityRecord, error) {
	var record models.EntityRecord
	var fields []byte

	err := row.Scan(
		&record.ID, &record.Class, &record.Collection, &record.UserID,
		&fields, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &record.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	if record.Fields == nil {
		record.Fields = map[string]interface{}{}
	}
	return &record, nil
}

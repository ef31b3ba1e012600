package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Epistemic-Technology/trialqa/models"
)

const defaultSearchLimit = 50

// SQLiteStore implements the QAStore interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS qa_items (
		id TEXT PRIMARY KEY,
		trial_id TEXT NOT NULL,
		document_id TEXT,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		source TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS qa_sources (
		item_id TEXT NOT NULL,
		source_index INTEGER NOT NULL,
		citation TEXT NOT NULL,
		PRIMARY KEY (item_id, source_index),
		FOREIGN KEY (item_id) REFERENCES qa_items(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS qa_tags (
		item_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (item_id, tag),
		FOREIGN KEY (item_id) REFERENCES qa_items(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_qa_items_trial ON qa_items(trial_id);
	CREATE INDEX IF NOT EXISTS idx_qa_items_document ON qa_items(document_id);
	CREATE INDEX IF NOT EXISTS idx_qa_tags_tag ON qa_tags(tag);
	`

	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

// SaveItem stores an item and its citations, replacing any item with the same ID
func (s *SQLiteStore) SaveItem(ctx context.Context, item *models.QAItem) (string, error) {
	if item.TrialID == "" {
		return "", errors.New("qa item needs a trial id")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO qa_items (id, trial_id, document_id, question, answer, source, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.TrialID, item.DocumentID, item.Question, item.Answer, item.Source, item.Verified, item.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert qa item: %w", err)
	}

	// INSERT OR REPLACE does not cascade, so clear children explicitly.
	for _, table := range []string{"qa_sources", "qa_tags"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE item_id = ?", item.ID); err != nil {
			return "", fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for i, c := range item.Sources {
		citationJSON, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("failed to marshal citation %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO qa_sources (item_id, source_index, citation)
			VALUES (?, ?, ?)
		`, item.ID, i, string(citationJSON))
		if err != nil {
			return "", fmt.Errorf("failed to insert citation %d: %w", i, err)
		}
	}

	for _, tag := range item.Tags {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO qa_tags (item_id, tag) VALUES (?, ?)
		`, item.ID, strings.ToLower(strings.TrimSpace(tag)))
		if err != nil {
			return "", fmt.Errorf("failed to insert tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return item.ID, nil
}

// GetItem retrieves a single item with its citations and tags
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*models.QAItem, error) {
	var item models.QAItem
	var docID, source sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, trial_id, document_id, question, answer, source, verified, created_at
		FROM qa_items
		WHERE id = ?
	`, id).Scan(&item.ID, &item.TrialID, &docID, &item.Question, &item.Answer, &source, &item.Verified, &item.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query qa item: %w", err)
	}
	item.DocumentID = docID.String
	item.Source = source.String

	if err := s.loadChildren(ctx, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// SearchItems returns items matching every non-empty field of the filter
func (s *SQLiteStore) SearchItems(ctx context.Context, filter models.QAFilter) ([]models.QAItem, error) {
	var where []string
	var args []any

	if filter.TrialID != "" {
		where = append(where, "trial_id = ?")
		args = append(args, filter.TrialID)
	}
	if filter.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, "(question LIKE ? ESCAPE '\\' OR answer LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(q) + "%"
		args = append(args, pattern, pattern)
	}
	if filter.Tag != "" {
		where = append(where, "id IN (SELECT item_id FROM qa_tags WHERE tag = ?)")
		args = append(args, strings.ToLower(strings.TrimSpace(filter.Tag)))
	}
	if filter.Verified != nil {
		where = append(where, "verified = ?")
		args = append(args, *filter.Verified)
	}

	query := "SELECT id, trial_id, document_id, question, answer, source, verified, created_at FROM qa_items"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query qa items: %w", err)
	}
	defer rows.Close()

	items := []models.QAItem{}
	for rows.Next() {
		var item models.QAItem
		var docID, source sql.NullString
		if err := rows.Scan(&item.ID, &item.TrialID, &docID, &item.Question, &item.Answer, &source, &item.Verified, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan qa item: %w", err)
		}
		item.DocumentID = docID.String
		item.Source = source.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qa items: %w", err)
	}
	rows.Close()

	for i := range items {
		if err := s.loadChildren(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// SetVerified updates the verified flag of an item
func (s *SQLiteStore) SetVerified(ctx context.Context, id string, verified bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE qa_items SET verified = ? WHERE id = ?`, verified, id)
	if err != nil {
		return fmt.Errorf("failed to update qa item: %w", err)
	}
	return requireRow(result, id)
}

// DeleteItem removes an item and all associated data
func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM qa_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete qa item: %w", err)
	}
	return requireRow(result, id)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, item *models.QAItem) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT citation FROM qa_sources
		WHERE item_id = ?
		ORDER BY source_index
	`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to query citations: %w", err)
	}
	defer rows.Close()

	item.Sources = []models.Citation{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("failed to scan citation: %w", err)
		}
		var c models.Citation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return fmt.Errorf("failed to unmarshal citation: %w", err)
		}
		item.Sources = append(item.Sources, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating citations: %w", err)
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT tag FROM qa_tags WHERE item_id = ? ORDER BY tag`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to query tags: %w", err)
	}
	defer tagRows.Close()

	item.Tags = nil
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return fmt.Errorf("failed to scan tag: %w", err)
		}
		item.Tags = append(item.Tags, tag)
	}
	return tagRows.Err()
}

func requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Ensure SQLiteStore implements QAStore interface
var _ QAStore = (*SQLiteStore)(nil)

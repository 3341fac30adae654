package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ModelRow is the canonical shape of one administratively enabled model.
// The store adapter hides the underlying column naming so the core never
// branches on schema variants.
type ModelRow struct {
	ID      int64
	Name    string
	Enabled bool
}

// Store resolves the administratively enabled model set.
type Store interface {
	// EnabledModels returns all models flagged enabled, in stable order.
	EnabledModels(ctx context.Context) ([]ModelRow, error)
	Close() error
}

// sqliteStore reads the whisper_models / model_settings tables. Deployed
// databases disagree on whether the key column is spelled id_model or
// model_id, so each query falls back to the alternate spelling.
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens the catalog database at path.
func OpenSQLite(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

// NewStoreFromDB wraps an existing handle; used by tests with :memory:.
func NewStoreFromDB(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) EnabledModels(ctx context.Context) ([]ModelRow, error) {
	rows, err := s.queryModels(ctx)
	if err != nil {
		return nil, err
	}
	enabled, err := s.queryEnabledIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModelRow, 0, len(rows))
	for _, r := range rows {
		if !enabled[r.ID] {
			continue
		}
		r.Enabled = true
		out = append(out, r)
	}
	return out, nil
}

func (s *sqliteStore) queryModels(ctx context.Context) ([]ModelRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id_model, model_name FROM whisper_models WHERE source = ?`, "whisper")
	if err != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT model_id AS id_model, model_name FROM whisper_models WHERE source = ?`, "whisper")
		if err != nil {
			return nil, fmt.Errorf("query whisper_models: %w", err)
		}
	}
	defer rows.Close()
	var out []ModelRow
	for rows.Next() {
		var r ModelRow
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryEnabledIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT model_id FROM model_settings WHERE enabled = ?`, true)
	if err != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT id_model AS model_id FROM model_settings WHERE enabled = ?`, true)
		if err != nil {
			return nil, fmt.Errorf("query model_settings: %w", err)
		}
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

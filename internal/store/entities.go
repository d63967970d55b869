package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/syncmap/internal/syncmap"
)

// Load returns the cached entity (plural, id).
// The bool result is false when no row exists.
func (s *Store) Load(ctx context.Context, plural, id string) (syncmap.CacheEntry, bool, error) {
	var fieldsJSON string
	entry := syncmap.CacheEntry{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT fields, seq
		FROM entities
		WHERE plural = ? AND id = ?
	`, plural, id).Scan(&fieldsJSON, &entry.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return syncmap.CacheEntry{}, false, nil
	}
	if err != nil {
		return syncmap.CacheEntry{}, false, fmt.Errorf("load %s/%s: %w", plural, id, err)
	}

	entry.Fields, err = unmarshalFields(fieldsJSON)
	if err != nil {
		return syncmap.CacheEntry{}, false, fmt.Errorf("load %s/%s: %w", plural, id, err)
	}
	return entry, true, nil
}

// List returns every cached entity of plural.
// Results are ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if nothing is cached.
func (s *Store) List(ctx context.Context, plural string) ([]syncmap.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields, seq
		FROM entities
		WHERE plural = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, plural)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	entries := []syncmap.CacheEntry{}
	for rows.Next() {
		var (
			entry      syncmap.CacheEntry
			fieldsJSON string
		)
		if err := rows.Scan(&entry.ID, &fieldsJSON, &entry.Seq); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if entry.Fields, err = unmarshalFields(fieldsJSON); err != nil {
			return nil, fmt.Errorf("entity %s/%s: %w", plural, entry.ID, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entries, nil
}

// Plurals returns the distinct plurals with cached entities, sorted.
func (s *Store) Plurals(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT plural
		FROM entities
		ORDER BY plural COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query plurals: %w", err)
	}
	defer rows.Close()

	plurals := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan plural: %w", err)
		}
		plurals = append(plurals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plurals: %w", err)
	}
	return plurals, nil
}

// Save replaces the cached entity unless the stored row carries a newer
// seq. Equal seqs overwrite, so a repeated save is idempotent.
func (s *Store) Save(ctx context.Context, plural string, entry syncmap.CacheEntry) error {
	fieldsJSON, err := marshalFields(entry.Fields)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", plural, entry.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (plural, id, fields, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plural, id) DO UPDATE
		SET fields = excluded.fields, seq = excluded.seq
		WHERE excluded.seq >= entities.seq
	`, plural, entry.ID, fieldsJSON, entry.Seq)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", plural, entry.ID, err)
	}
	return nil
}

// Delete removes the cached entity. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, plural, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM entities
		WHERE plural = ? AND id = ?
	`, plural, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", plural, id, err)
	}
	return nil
}

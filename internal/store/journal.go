package store

import (
	"context"
	"fmt"

	"github.com/roach88/syncmap/internal/syncmap"
)

// JournalRow is one journal record with its outcome.
type JournalRow struct {
	syncmap.JournalEntry
	State  string
	Reason string
}

// Append records a submitted local action as pending.
// Uses ON CONFLICT(action_id) DO NOTHING for idempotency.
func (s *Store) Append(ctx context.Context, entry syncmap.JournalEntry) error {
	fieldsJSON, err := marshalFields(entry.Fields)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journal (action_id, seq, type, entity_id, fields, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO NOTHING
	`,
		entry.ActionID,
		entry.Seq,
		entry.Type,
		entry.EntityID,
		fieldsJSON,
		syncmap.ChangePending.String(),
	)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Resolve records the outcome of a journaled action.
// Resolving an unknown action ID is an error.
func (s *Store) Resolve(ctx context.Context, actionID string, state syncmap.ChangeState, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE journal
		SET state = ?, reason = ?
		WHERE action_id = ?
	`, state.String(), reason, actionID)
	if err != nil {
		return fmt.Errorf("resolve journal %s: %w", actionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve journal %s: %w", actionID, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve journal %s: no such action", actionID)
	}
	return nil
}

// ReadJournal returns every journal row.
// Results are ordered by seq ASC, action_id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ReadJournal(ctx context.Context) ([]JournalRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, seq, type, entity_id, fields, state, reason
		FROM journal
		ORDER BY seq ASC, action_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := []JournalRow{}
	for rows.Next() {
		var (
			row        JournalRow
			fieldsJSON string
		)
		err := rows.Scan(&row.ActionID, &row.Seq, &row.Type, &row.EntityID, &fieldsJSON, &row.State, &row.Reason)
		if err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		if row.Fields, err = unmarshalFields(fieldsJSON); err != nil {
			return nil, fmt.Errorf("journal %s: %w", row.ActionID, err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ProcessingState is one lifecycle status report.
type ProcessingState struct {
	Seq     int64  `json:"seq"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// RecordProcessingState appends a status report.
func (s *Store) RecordProcessingState(ctx context.Context, state, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_state (state, message) VALUES (?, ?)
	`, state, message)
	if err != nil {
		return fmt.Errorf("record processing state: %w", err)
	}
	return nil
}

// ProcessingStates returns the report history, oldest first.
func (s *Store) ProcessingStates(ctx context.Context) ([]ProcessingState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, state, message FROM processing_state ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query processing state: %w", err)
	}
	defer rows.Close()

	states := []ProcessingState{}
	for rows.Next() {
		var ps ProcessingState
		if err := rows.Scan(&ps.Seq, &ps.State, &ps.Message); err != nil {
			return nil, fmt.Errorf("scan processing state: %w", err)
		}
		states = append(states, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing state: %w", err)
	}
	return states, nil
}

// LatestProcessingState returns the most recent report. ok is false when
// nothing has been reported.
func (s *Store) LatestProcessingState(ctx context.Context) (ps ProcessingState, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT seq, state, message FROM processing_state ORDER BY seq DESC LIMIT 1
	`).Scan(&ps.Seq, &ps.State, &ps.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessingState{}, false, nil
	}
	if err != nil {
		return ProcessingState{}, false, fmt.Errorf("latest processing state: %w", err)
	}
	return ps, true, nil
}

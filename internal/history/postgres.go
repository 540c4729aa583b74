package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-chat/backend/internal/event"
)

// PostgresStore persists the log in the chat_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a history store on an existing pool. The schema is
// created by database.Migrate.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append implements Store. The returned sequence is the row's seq column, which
// is monotonic but may have gaps after rolled back inserts.
func (s *PostgresStore) Append(ctx context.Context, e event.Event) (int64, error) {
	if err := event.Validate(e); err != nil {
		return 0, err
	}
	var body *string
	if e.Kind == event.KindMessage {
		body = &e.Body
	}
	var seq int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_events (event_type, username, message) VALUES ($1, $2, $3) RETURNING seq`,
		string(e.Kind), e.Participant, body).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", ErrStorageFailure, err)
	}
	return seq, nil
}

// Snapshot implements Store.
func (s *PostgresStore) Snapshot(ctx context.Context) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, username, message FROM chat_events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	list := []event.Event{}
	for rows.Next() {
		var (
			kind     string
			username string
			body     *string
		)
		if err := rows.Scan(&kind, &username, &body); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", ErrStorageFailure, err)
		}
		e := event.Event{Kind: event.Kind(kind), Participant: username}
		if body != nil {
			e.Body = *body
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read events: %v", ErrStorageFailure, err)
	}
	return list, nil
}

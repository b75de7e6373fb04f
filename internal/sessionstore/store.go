package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/database"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
)

const timeLayout = time.RFC3339Nano

// Repository defines persistence of client sessions and their subscriptions.
type Repository interface {
	Save(ctx context.Context, clientID string, records []Record) error
	Add(ctx context.Context, clientID string, records []Record) error
	Remove(ctx context.Context, clientID string, filters []string) error
	Load(ctx context.Context, clientID string) ([]Record, error)
	Delete(ctx context.Context, clientID string) error

	RecordConnected(ctx context.Context, clientID, broker string, cleanSession bool) error
	RecordDisconnected(ctx context.Context, clientID, reason string) error
	Session(ctx context.Context, clientID string) (*Session, error)
}

// Store implements Repository on the SQLite session database.
type Store struct {
	db  *database.DB
	now func() time.Time
}

var _ Repository = (*Store)(nil)

// New creates a Store. The database must already be migrated.
func New(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Save replaces the stored subscriptions of clientID with records, in order.
func (s *Store) Save(ctx context.Context, clientID string, records []Record) error {
	if err := checkInput(clientID, records); err != nil {
		return err
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("clearing subscriptions for %s: %w", clientID, err)
		}
		return s.upsert(ctx, tx, clientID, records, 0)
	})
}

// Add appends records after the existing ones. A filter that is already
// stored keeps its position and takes the new QoS.
func (s *Store) Add(ctx context.Context, clientID string, records []Record) error {
	if err := checkInput(clientID, records); err != nil {
		return err
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		var next int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM subscriptions WHERE client_id = ?`, clientID,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("reading next position for %s: %w", clientID, err)
		}
		return s.upsert(ctx, tx, clientID, records, next)
	})
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, clientID string, records []Record, first int) error {
	const query = `INSERT INTO subscriptions (client_id, topic_filter, qos, position, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client_id, topic_filter) DO UPDATE SET qos = excluded.qos, updated_at = excluded.updated_at`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing subscription insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC().Format(timeLayout)
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, clientID, r.TopicFilter, int(r.QoS), first+i, now); err != nil {
			return fmt.Errorf("storing subscription %q for %s: %w", r.TopicFilter, clientID, err)
		}
	}
	return nil
}

// Remove deletes the named filters. Unknown filters are ignored.
func (s *Store) Remove(ctx context.Context, clientID string, filters []string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, f := range filters {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM subscriptions WHERE client_id = ? AND topic_filter = ?`, clientID, f,
			); err != nil {
				return fmt.Errorf("removing subscription %q for %s: %w", f, clientID, err)
			}
		}
		return nil
	})
}

// Load returns the stored subscriptions of clientID in the order they were
// saved. A client with nothing stored yields an empty slice.
func (s *Store) Load(ctx context.Context, clientID string) ([]Record, error) {
	if clientID == "" {
		return nil, ErrInvalidClientID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT topic_filter, qos FROM subscriptions WHERE client_id = ? ORDER BY position`, clientID)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions for %s: %w", clientID, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r   Record
			qos int
		)
		if err := rows.Scan(&r.TopicFilter, &qos); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		r.QoS = mqtt.QoS(qos)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return records, nil
}

// Delete removes the session row and every subscription of clientID.
func (s *Store) Delete(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("deleting subscriptions for %s: %w", clientID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("deleting session %s: %w", clientID, err)
		}
		return nil
	})
}

// RecordConnected stores a successful connect.
func (s *Store) RecordConnected(ctx context.Context, clientID, broker string, cleanSession bool) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	const query = `INSERT INTO sessions (client_id, broker, clean_session, connected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			broker = excluded.broker,
			clean_session = excluded.clean_session,
			connected_at = excluded.connected_at`
	_, err := s.db.ExecContext(ctx, query, clientID, broker, boolToInt(cleanSession), s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("recording connect for %s: %w", clientID, err)
	}
	return nil
}

// RecordDisconnected stores the disconnect time and reason.
// It returns ErrSessionNotFound when the client never connected.
func (s *Store) RecordDisconnected(ctx context.Context, clientID, reason string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET disconnected_at = ?, last_reason = ? WHERE client_id = ?`,
		s.now().UTC().Format(timeLayout), reason, clientID)
	if err != nil {
		return fmt.Errorf("recording disconnect for %s: %w", clientID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Session returns the stored session of clientID.
func (s *Store) Session(ctx context.Context, clientID string) (*Session, error) {
	if clientID == "" {
		return nil, ErrInvalidClientID
	}

	var (
		sess                    Session
		clean                   int
		connected, disconnected sql.NullString
		reason                  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, broker, clean_session, connected_at, disconnected_at, last_reason
		FROM sessions WHERE client_id = ?`, clientID,
	).Scan(&sess.ClientID, &sess.Broker, &clean, &connected, &disconnected, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session %s: %w", clientID, err)
	}

	sess.CleanSession = clean != 0
	sess.ConnectedAt = parseTime(connected)
	sess.DisconnectedAt = parseTime(disconnected)
	sess.LastReason = reason.String
	return &sess, nil
}

func checkInput(clientID string, records []Record) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	for _, r := range records {
		if !r.valid() {
			return fmt.Errorf("%w: filter %q qos %d", ErrInvalidRecord, r.TopicFilter, r.QoS)
		}
	}
	return nil
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

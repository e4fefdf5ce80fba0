package store

import (
	"context"
	"time"
)

// DeadLetter is a queue job that exhausted its retries, kept for operator
// inspection and manual replay.
type DeadLetter struct {
	ID        int64     `json:"id"`
	Queue     string    `json:"queue"`
	Payload   string    `json:"payload"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// InsertDeadLetter records an exhausted job.
func (s *Store) InsertDeadLetter(ctx context.Context, queue string, payload []byte, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (queue, payload, reason, created_at)
		VALUES (?, ?, ?, ?)
	`, queue, string(payload), reason, encodeTime(time.Now()))
	return err
}

// ListDeadLetters returns the most recent dead letters.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue, payload, reason, created_at
		  FROM dead_letters ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		var (
			d         DeadLetter
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.Queue, &d.Payload, &d.Reason, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = decodeTime(createdAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

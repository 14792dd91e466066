package store

import (
	"context"
	"database/sql"
	"time"
)

// DeleteBefore deletes events with a timestamp before cutoff, together
// with their sub-records, in batches. Each batch is its own transaction so
// readers and writers are not blocked for the whole sweep. It returns the
// number of events deleted; on error the count covers committed batches.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := FormatTime(cutoff)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var n int64
		err := s.writeTx(ctx, "delete_before", func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				DELETE FROM events WHERE id IN (
					SELECT id FROM events WHERE timestamp < ? ORDER BY id LIMIT ?
				)`, ts, s.batchSize)
			if err != nil {
				return err
			}
			n, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.batchSize) {
			break
		}
	}

	if total > 0 {
		s.logger.Info("deleted old events", "cutoff", ts, "count", total)
	}
	return total, nil
}

// CleanupOlderThan deletes events older than age relative to now.
func (s *Store) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return s.DeleteBefore(ctx, s.now().Add(-age))
}

// DeleteEvents deletes the given events and their sub-records.
func (s *Store) DeleteEvents(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += s.batchSize {
		end := min(start+s.batchSize, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		var n int64
		err := s.writeTx(ctx, "delete_events", func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id IN ("+placeholders(len(chunk))+")", args...)
			if err != nil {
				return err
			}
			n, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// PruneOrphans removes conversations, sessions and agents that no longer
// own any event and returns how many rows were removed.
func (s *Store) PruneOrphans(ctx context.Context) (int64, error) {
	var total int64
	err := s.writeTx(ctx, "prune_orphans", func(tx *sql.Tx) error {
		total = 0
		stmts := []string{
			`DELETE FROM conversations WHERE NOT EXISTS (SELECT 1 FROM events e WHERE e.conversation_id = conversations.id)`,
			`DELETE FROM sessions WHERE NOT EXISTS (SELECT 1 FROM events e WHERE e.session_id = sessions.id)
				AND NOT EXISTS (SELECT 1 FROM conversations c WHERE c.session_id = sessions.id)`,
			`DELETE FROM agents WHERE NOT EXISTS (SELECT 1 FROM events e WHERE e.agent_id = agents.id)
				AND NOT EXISTS (SELECT 1 FROM sessions s WHERE s.agent_id = agents.id)`,
		}
		for _, q := range stmts {
			res, err := tx.ExecContext(ctx, q)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

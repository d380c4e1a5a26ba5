package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"what2eat/internal/domain"
)

//go:embed schema.sql
var Schema string

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) FeedRepositoryInterface {
	return &PostgresRepository{pool: pool}
}

// Migrate creates the feed, membership and catalog tables if they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error { return nil }

// withGroupTx runs fn in a transaction holding the group's advisory lock, so
// check-then-write sequences from several instances cannot interleave.
func (r *PostgresRepository) withGroupTx(ctx context.Context, groupID string, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, groupID); err != nil {
		return fmt.Errorf("failed to lock group: %w", err)
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func nextSeq(ctx context.Context, tx pgx.Tx, groupID string) (uint64, error) {
	var head int64
	err := tx.QueryRow(ctx, `
INSERT INTO feed_heads (group_id, head) VALUES ($1, 1)
ON CONFLICT (group_id) DO UPDATE SET head = feed_heads.head + 1
RETURNING head
`, groupID).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate seq: %w", err)
	}
	return uint64(head), nil
}

const selectRecord = `
SELECT seq, record_id, pusher_id, pusher_name, pusher_avatar, lines, total_minor, created_at, deleted_at IS NOT NULL
FROM push_records`

func scanEntry(groupID string, row pgx.Row) (domain.FeedEntry, error) {
	var (
		seq   int64
		total int64
		lines []byte
		e     = domain.FeedEntry{GroupID: groupID}
		msgs  []domain.LineMsg
	)
	err := row.Scan(&seq, &e.Record.ID, &e.Record.Pusher.ID, &e.Record.Pusher.DisplayName,
		&e.Record.Pusher.AvatarRef, &lines, &total, &e.Record.CreatedAt, &e.Deleted)
	if err != nil {
		return domain.FeedEntry{}, err
	}
	if err := json.Unmarshal(lines, &msgs); err != nil {
		return domain.FeedEntry{}, fmt.Errorf("decode lines: %w", err)
	}
	e.Seq = uint64(seq)
	e.Record.Total = domain.Amount(total)
	e.Record.CreatedAt = e.Record.CreatedAt.UTC()
	e.Record.Lines = (&domain.RecordMsg{Lines: msgs}).ToRecord().Lines
	return e, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, groupID string, rec domain.PushRecord) (domain.FeedEntry, bool, error) {
	var (
		entry    domain.FeedEntry
		inserted bool
	)
	err := r.withGroupTx(ctx, groupID, func(tx pgx.Tx) error {
		existing, err := scanEntry(groupID, tx.QueryRow(ctx, selectRecord+` WHERE group_id=$1 AND record_id=$2`, groupID, rec.ID))
		if err == nil {
			entry = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to look up record: %w", err)
		}

		seq, err := nextSeq(ctx, tx, groupID)
		if err != nil {
			return err
		}
		msg := domain.NewRecordMsg(rec)
		lines, err := json.Marshal(msg.Lines)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO push_records (group_id, record_id, seq, pusher_id, pusher_name, pusher_avatar, lines, total_minor, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, groupID, rec.ID, int64(seq), rec.Pusher.ID, rec.Pusher.DisplayName, rec.Pusher.AvatarRef, lines, int64(rec.Total), rec.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
		if err := insertEvent(ctx, tx, domain.AppendEvent(groupID, seq, rec)); err != nil {
			return err
		}
		entry = domain.FeedEntry{GroupID: groupID, Seq: seq, Record: rec.Clone()}
		inserted = true
		return nil
	})
	if err != nil {
		return domain.FeedEntry{}, false, err
	}
	return entry, inserted, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev domain.FeedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	recordID := ev.RecordID
	if ev.Record != nil {
		recordID = ev.Record.ID
	}
	_, err = tx.Exec(ctx, `
INSERT INTO push_events (group_id, seq, event_type, record_id, payload, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, ev.GroupID, int64(ev.Seq), string(ev.EventType), recordID, payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, groupID, recordID string) (domain.FeedEntry, error) {
	e, err := scanEntry(groupID, r.pool.QueryRow(ctx, selectRecord+` WHERE group_id=$1 AND record_id=$2`, groupID, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeedEntry{}, domain.ErrNotFound
	}
	return e, err
}

func (r *PostgresRepository) Tombstone(ctx context.Context, groupID, recordID string, at time.Time) (domain.FeedEvent, bool, error) {
	var (
		ev      domain.FeedEvent
		changed bool
	)
	err := r.withGroupTx(ctx, groupID, func(tx pgx.Tx) error {
		var deleted bool
		err := tx.QueryRow(ctx, `
SELECT deleted_at IS NOT NULL FROM push_records WHERE group_id=$1 AND record_id=$2 FOR UPDATE
`, groupID, recordID).Scan(&deleted)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to look up record: %w", err)
		}
		if deleted {
			return nil
		}
		seq, err := nextSeq(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE push_records SET deleted_at=$3 WHERE group_id=$1 AND record_id=$2`,
			groupID, recordID, at); err != nil {
			return fmt.Errorf("failed to tombstone record: %w", err)
		}
		ev = domain.DeleteEvent(groupID, seq, recordID, at)
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return domain.FeedEvent{}, false, err
	}
	return ev, changed, nil
}

func (r *PostgresRepository) RecordsSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEntry, error) {
	rows, err := r.pool.Query(ctx, selectRecord+`
WHERE group_id=$1 AND seq>$2 AND deleted_at IS NULL
ORDER BY seq ASC
LIMIT $3
`, groupID, int64(cursor), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeedEntry
	for rows.Next() {
		e, err := scanEntry(groupID, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) EventsSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEvent, error) {
	rows, err := r.pool.Query(ctx, `
SELECT payload FROM push_events
WHERE group_id=$1 AND seq>$2
ORDER BY seq ASC
LIMIT $3
`, groupID, int64(cursor), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeedEvent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev domain.FeedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Head(ctx context.Context, groupID string) (uint64, error) {
	var head int64
	err := r.pool.QueryRow(ctx, `SELECT head FROM feed_heads WHERE group_id=$1`, groupID).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return uint64(head), err
}

package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"what2eat/internal/domain"
)

// PebbleRepository keeps each group under the prefix "g/<group>/":
//
//	head           last assigned seq (8 bytes, big endian)
//	r/<id>         storedRecord JSON
//	s/<seq>        record id, for seq-ordered listing
//	e/<seq>        FeedEvent JSON
//
// seq keys are zero padded to 20 digits so byte order equals numeric order.
type PebbleRepository struct {
	db *pebble.DB
	mu sync.Mutex // serializes read-modify-write of head
}

func NewPebbleRepository(dir string) (FeedRepositoryInterface, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleRepository{db: d}, nil
}

func (p *PebbleRepository) Close() error { return p.db.Close() }

func gkey(groupID, suffix string) []byte { return []byte("g/" + groupID + "/" + suffix) }

func seqKey(groupID, kind string, seq uint64) []byte {
	return gkey(groupID, fmt.Sprintf("%s/%020d", kind, seq))
}

func (p *PebbleRepository) get(k []byte) ([]byte, bool, error) {
	v, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

func (p *PebbleRepository) head(groupID string) (uint64, error) {
	v, ok, err := p.get(gkey(groupID, "head"))
	if err != nil || !ok {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func (p *PebbleRepository) record(groupID, recordID string) (storedRecord, bool, error) {
	v, ok, err := p.get(gkey(groupID, "r/"+recordID))
	if err != nil || !ok {
		return storedRecord{}, ok, err
	}
	var s storedRecord
	if err := json.Unmarshal(v, &s); err != nil {
		return storedRecord{}, false, fmt.Errorf("decode record %s: %w", recordID, err)
	}
	return s, true, nil
}

func headBytes(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func (p *PebbleRepository) Insert(_ context.Context, groupID string, rec domain.PushRecord) (domain.FeedEntry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok, err := p.record(groupID, rec.ID); err != nil {
		return domain.FeedEntry{}, false, err
	} else if ok {
		return s.entry(groupID), false, nil
	}
	head, err := p.head(groupID)
	if err != nil {
		return domain.FeedEntry{}, false, err
	}
	seq := head + 1
	s := storedRecord{Seq: seq, Record: domain.NewRecordMsg(rec)}
	rb, err := json.Marshal(s)
	if err != nil {
		return domain.FeedEntry{}, false, err
	}
	eb, err := json.Marshal(domain.AppendEvent(groupID, seq, rec))
	if err != nil {
		return domain.FeedEntry{}, false, err
	}

	b := p.db.NewBatch()
	defer b.Close()
	_ = b.Set(gkey(groupID, "r/"+rec.ID), rb, nil)
	_ = b.Set(seqKey(groupID, "s", seq), []byte(rec.ID), nil)
	_ = b.Set(seqKey(groupID, "e", seq), eb, nil)
	_ = b.Set(gkey(groupID, "head"), headBytes(seq), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return domain.FeedEntry{}, false, fmt.Errorf("commit insert: %w", err)
	}
	return s.entry(groupID), true, nil
}

func (p *PebbleRepository) Get(_ context.Context, groupID, recordID string) (domain.FeedEntry, error) {
	s, ok, err := p.record(groupID, recordID)
	if err != nil {
		return domain.FeedEntry{}, err
	}
	if !ok {
		return domain.FeedEntry{}, domain.ErrNotFound
	}
	return s.entry(groupID), nil
}

func (p *PebbleRepository) Tombstone(_ context.Context, groupID, recordID string, at time.Time) (domain.FeedEvent, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok, err := p.record(groupID, recordID)
	if err != nil {
		return domain.FeedEvent{}, false, err
	}
	if !ok {
		return domain.FeedEvent{}, false, domain.ErrNotFound
	}
	if s.Deleted {
		return domain.FeedEvent{}, false, nil
	}
	head, err := p.head(groupID)
	if err != nil {
		return domain.FeedEvent{}, false, err
	}
	ev := domain.DeleteEvent(groupID, head+1, recordID, at)
	s.Deleted = true
	rb, err := json.Marshal(s)
	if err != nil {
		return domain.FeedEvent{}, false, err
	}
	eb, err := json.Marshal(ev)
	if err != nil {
		return domain.FeedEvent{}, false, err
	}

	b := p.db.NewBatch()
	defer b.Close()
	_ = b.Set(gkey(groupID, "r/"+recordID), rb, nil)
	_ = b.Set(seqKey(groupID, "e", ev.Seq), eb, nil)
	_ = b.Set(gkey(groupID, "head"), headBytes(ev.Seq), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return domain.FeedEvent{}, false, fmt.Errorf("commit tombstone: %w", err)
	}
	return ev, true, nil
}

// scan walks keys of one kind with seq > cursor in order until fn returns false.
func (p *PebbleRepository) scan(groupID, kind string, cursor uint64, fn func(v []byte) (bool, error)) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: seqKey(groupID, kind, cursor+1),
		UpperBound: gkey(groupID, kind+"0"), // '0' sorts right after '/'
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		more, err := fn(append([]byte(nil), it.Value()...))
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return it.Error()
}

func (p *PebbleRepository) RecordsSince(_ context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEntry, error) {
	limit = clampLimit(limit)
	var out []domain.FeedEntry
	err := p.scan(groupID, "s", cursor, func(v []byte) (bool, error) {
		s, ok, err := p.record(groupID, string(v))
		if err != nil {
			return false, err
		}
		if ok && !s.Deleted {
			out = append(out, s.entry(groupID))
		}
		return len(out) < limit, nil
	})
	return out, err
}

func (p *PebbleRepository) EventsSince(_ context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEvent, error) {
	limit = clampLimit(limit)
	var out []domain.FeedEvent
	err := p.scan(groupID, "e", cursor, func(v []byte) (bool, error) {
		var ev domain.FeedEvent
		if err := json.Unmarshal(v, &ev); err != nil {
			return false, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
		return len(out) < limit, nil
	})
	return out, err
}

func (p *PebbleRepository) Head(_ context.Context, groupID string) (uint64, error) {
	return p.head(groupID)
}

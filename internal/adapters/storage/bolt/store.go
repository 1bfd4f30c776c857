package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

var (
	bucketSessions = []byte("sessions")
	bucketEvents   = []byte("events")
	bucketEntries  = []byte("entries")
)

// graceWindowMs protects the just-written tail of the active session
// from a zero-day retention sweep.
const graceWindowMs = 10_000

// DefaultMaxEventsPerSession caps the render-event partition size.
const DefaultMaxEventsPerSession = 5000

// Store is a session-partitioned event store on bbolt. Render events
// and trace entries live in nested buckets keyed by session id, with
// (timestamp, seq) big-endian keys so cursor order is emission order.
type Store struct {
	db     *bolt.DB
	logger *zerolog.Logger

	maxEventsPerSession int

	mu          sync.Mutex
	eventCounts map[string]int // running per-session counters for cap enforcement
	seq         uint32
}

func Open(path string, maxEvents int, logger *zerolog.Logger) (*Store, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEventsPerSession
	}
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketEvents, bucketEntries} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{
		db:                  db,
		logger:              logger,
		maxEventsPerSession: maxEvents,
		eventCounts:         make(map[string]int),
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// key layout: 8-byte big-endian epoch-ms, 4-byte big-endian sequence.
// The sequence disambiguates equal timestamps while preserving
// emission order.
func (s *Store) nextKey(ts int64) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k, uint64(ts))
	s.mu.Lock()
	s.seq++
	binary.BigEndian.PutUint32(k[8:], s.seq)
	s.mu.Unlock()
	return k
}

func keyTimestamp(k []byte) int64 {
	if len(k) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k))
}

// SessionRepository

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(sess.ID), raw)
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, bool, error) {
	var sess domain.Session
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &sess)
	})
	return sess, found, err
}

func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	out := make([]domain.Session, 0, 8)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var sess domain.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			out = append(out, sess)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Delete([]byte(id)); err != nil {
			return err
		}
		for _, table := range [][]byte{bucketEvents, bucketEntries} {
			b := tx.Bucket(table)
			if b.Bucket([]byte(id)) != nil {
				if err := b.DeleteBucket([]byte(id)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.eventCounts, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketEvents, bucketEntries} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	s.mu.Lock()
	s.eventCounts = make(map[string]int)
	s.mu.Unlock()
	return nil
}

// EventRepository

// AppendEvents persists a batch inside one transaction; the commit
// happens before return so a crash cannot lose an acknowledged write.
// When the partition's running counter crosses the cap, the oldest
// events are dropped down to the cap in the same pass.
func (s *Store) AppendEvents(ctx context.Context, sessionID string, events []domain.RenderEvent) error {
	if len(events) == 0 {
		return nil
	}
	count, err := s.partitionCount(sessionID, bucketEvents)
	if err != nil {
		return err
	}
	evicted := 0
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		for _, ev := range events {
			raw, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			if err := b.Put(s.nextKey(ev.Timestamp), raw); err != nil {
				return err
			}
			count++
		}
		// Single-pass eviction only when the counter crossed the
		// threshold, not on every append.
		if count > s.maxEventsPerSession {
			c := b.Cursor()
			for k, _ := c.First(); k != nil && count > s.maxEventsPerSession; k, _ = c.First() {
				if err := b.Delete(k); err != nil {
					return err
				}
				count--
				evicted++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	s.mu.Lock()
	s.eventCounts[sessionID] = count
	s.mu.Unlock()
	if evicted > 0 {
		s.logger.Warn().Str("session", sessionID).Int("evicted", evicted).
			Int("cap", s.maxEventsPerSession).Msg("render-event cap reached, oldest events dropped")
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]domain.RenderEvent, error) {
	out := make([]domain.RenderEvent, 0, 64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ev domain.RenderEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteEvents(ctx context.Context, sessionID string) error {
	if err := s.deletePartition(bucketEvents, sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.eventCounts, sessionID)
	s.mu.Unlock()
	return nil
}

// EntryRepository

func (s *Store) AppendEntry(ctx context.Context, sessionID string, e domain.TraceEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketEntries).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		return b.Put(s.nextKey(e.StartedDateTime.UnixMilli()), raw)
	})
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, sessionID string) ([]domain.TraceEntry, error) {
	out := make([]domain.TraceEntry, 0, 32)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e domain.TraceEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteEntries(ctx context.Context, sessionID string) error {
	return s.deletePartition(bucketEntries, sessionID)
}

// RetentionSweeper

// Sweep deletes data strictly older than the policy cutoff. The
// cutoff is anchored on the active session's trace time, and a short
// grace window keeps the active session's own in-flight writes safe
// even under a zero-day policy. Deletions stay within session
// partitions; sessions whose partitions empty out are dropped whole.
func (s *Store) Sweep(ctx context.Context, policy domain.RetentionPolicy, activeTraceTime int64) (int, error) {
	if policy.Unbounded() {
		return 0, nil
	}
	cutoff := policy.Cutoff(activeTraceTime)
	if max := activeTraceTime - graceWindowMs; cutoff > max {
		cutoff = max
	}
	dropped := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		var stale [][]byte
		err := sessions.ForEach(func(k, v []byte) error {
			var sess domain.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.TraceTime == activeTraceTime {
				return nil // never the just-created session
			}
			for _, table := range [][]byte{bucketEvents, bucketEntries} {
				b := tx.Bucket(table).Bucket(k)
				if b == nil {
					continue
				}
				c := b.Cursor()
				for kk, _ := c.First(); kk != nil && keyTimestamp(kk) < cutoff; kk, _ = c.First() {
					if err := b.Delete(kk); err != nil {
						return err
					}
				}
			}
			if sess.TraceTime < cutoff {
				if s.partitionEmpty(tx, bucketEvents, k) && s.partitionEmpty(tx, bucketEntries, k) {
					stale = append(stale, append([]byte(nil), k...))
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := sessions.Delete(k); err != nil {
				return err
			}
			for _, table := range [][]byte{bucketEvents, bucketEntries} {
				if tx.Bucket(table).Bucket(k) != nil {
					if err := tx.Bucket(table).DeleteBucket(k); err != nil {
						return err
					}
				}
			}
			dropped++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	s.mu.Lock()
	s.eventCounts = make(map[string]int) // counters recount lazily after a sweep
	s.mu.Unlock()
	if dropped > 0 {
		s.logger.Info().Int("sessions", dropped).Int64("cutoff", cutoff).Msg("retention sweep dropped stale sessions")
	}
	return dropped, nil
}

// helpers

func (s *Store) partitionCount(sessionID string, table []byte) (int, error) {
	s.mu.Lock()
	if n, ok := s.eventCounts[sessionID]; ok {
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(table).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count partition: %w", err)
	}
	return n, nil
}

func (s *Store) partitionEmpty(tx *bolt.Tx, table, sessionID []byte) bool {
	b := tx.Bucket(table).Bucket(sessionID)
	if b == nil {
		return true
	}
	k, _ := b.Cursor().First()
	return k == nil
}

func (s *Store) deletePartition(table []byte, sessionID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(table)
		if b.Bucket([]byte(sessionID)) == nil {
			return nil
		}
		return b.DeleteBucket([]byte(sessionID))
	})
	if err != nil {
		return fmt.Errorf("delete partition %s: %w", sessionID, err)
	}
	return nil
}

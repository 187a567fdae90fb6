// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package store is the persistence boundary: a BadgerDB-backed command sink
// for sessions, security events and proctoring configuration, plus a change
// feed built on badger's key-prefix subscriptions.
//
// Key layout:
//
//	session/<session-id>                 live ExamSession
//	archive/<session-id>                 evaluated ExamSession (TTL)
//	event/<session-id>/<seq:020d>        SecurityEvent in arrival order
//	config/<assessment-id>               ProctoringConfig
//	signal/<session-id>/<unix-nanos>-<n> raw detector signal from batch ingestion
//	telemetry/<session-id>               latest client telemetry
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/models"
)

// Key prefixes, also used as change-feed table names.
const (
	PrefixSession   = "session/"
	PrefixArchive   = "archive/"
	PrefixEvent     = "event/"
	PrefixConfig    = "config/"
	PrefixSignal    = "signal/"
	PrefixTelemetry = "telemetry/"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// Config configures the store.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
	// ArchiveTTL bounds how long evaluated sessions are kept; zero keeps them.
	ArchiveTTL time.Duration
}

// Store is the badger-backed persistence layer. It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	config Config
	closed atomic.Bool
	mu     sync.RWMutex
	seq    atomic.Uint64
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required for on-disk mode")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Session store opened")

	return &Store{db: db, config: cfg}, nil
}

// OpenInMemory opens a throwaway in-memory store, used by tests and by
// deployments that accept losing state on restart.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *Store) put(key string, v interface{}, ttl time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *Store) get(key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// scan calls fn for every value under prefix in key order.
func (s *Store) scan(prefix string, fn func(key, val []byte) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return fn(item.KeyCopy(nil), val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveSession writes the live session record.
func (s *Store) SaveSession(_ context.Context, sess *models.ExamSession) error {
	if err := s.put(PrefixSession+sess.ID, sess, 0); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadSession reads a live session.
func (s *Store) LoadSession(_ context.Context, id string) (*models.ExamSession, error) {
	data, err := s.get(PrefixSession + id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return models.UnmarshalSession(data)
}

// ListSessions returns every live session.
func (s *Store) ListSessions(_ context.Context) ([]*models.ExamSession, error) {
	var out []*models.ExamSession
	err := s.scan(PrefixSession, func(_, val []byte) error {
		sess, err := models.UnmarshalSession(val)
		if err != nil {
			return err
		}
		out = append(out, sess)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Archive moves a session from the live set to the archive in one transaction.
func (s *Store) Archive(_ context.Context, sess *models.ExamSession) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := models.MarshalSession(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(PrefixArchive+sess.ID), data)
		if s.config.ArchiveTTL > 0 {
			e = e.WithTTL(s.config.ArchiveTTL)
		}
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("archive session %s: %w", sess.ID, err)
		}
		if err := txn.Delete([]byte(PrefixSession + sess.ID)); err != nil {
			return fmt.Errorf("remove live session %s: %w", sess.ID, err)
		}
		if err := txn.Delete([]byte(PrefixTelemetry + sess.ID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// LoadArchived reads an archived session.
func (s *Store) LoadArchived(_ context.Context, id string) (*models.ExamSession, error) {
	data, err := s.get(PrefixArchive + id)
	if err != nil {
		return nil, fmt.Errorf("load archived session %s: %w", id, err)
	}
	return models.UnmarshalSession(data)
}

func eventKey(sessionID string, seq uint64) string {
	return fmt.Sprintf("%s%s/%020d", PrefixEvent, sessionID, seq)
}

// AppendEvent appends a violation to the session's event log. Re-appending
// the same sequence overwrites, so retried writes do not duplicate.
func (s *Store) AppendEvent(_ context.Context, e *models.SecurityEvent) error {
	if err := s.put(eventKey(e.SessionID(), e.Sequence()), e, 0); err != nil {
		return fmt.Errorf("append event %s: %w", e.ID(), err)
	}
	return nil
}

// Events returns the session's violations ordered by sequence.
func (s *Store) Events(_ context.Context, sessionID string) ([]*models.SecurityEvent, error) {
	var out []*models.SecurityEvent
	err := s.scan(PrefixEvent+sessionID+"/", func(_, val []byte) error {
		e, err := models.UnmarshalSecurityEvent(val)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("events for %s: %w", sessionID, err)
	}
	return out, nil
}

// SaveConfig stores an assessment's proctoring policy.
func (s *Store) SaveConfig(_ context.Context, cfg *models.ProctoringConfig) error {
	if err := s.put(PrefixConfig+cfg.AssessmentID, cfg, 0); err != nil {
		return fmt.Errorf("save proctoring config %s: %w", cfg.AssessmentID, err)
	}
	return nil
}

// LoadConfig reads an assessment's proctoring policy.
func (s *Store) LoadConfig(_ context.Context, assessmentID string) (*models.ProctoringConfig, error) {
	data, err := s.get(PrefixConfig + assessmentID)
	if err != nil {
		return nil, fmt.Errorf("load proctoring config %s: %w", assessmentID, err)
	}
	var cfg models.ProctoringConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode proctoring config %s: %w", assessmentID, err)
	}
	return &cfg, nil
}

// PutSignal records a raw detector signal for asynchronous processing via the
// change feed. The payload is stored as-is.
func (s *Store) PutSignal(_ context.Context, sessionID string, payload []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s/%020d-%d", PrefixSignal, sessionID, time.Now().UnixNano(), s.seq.Add(1))
	return s.db.Update(func(txn *badger.Txn) error {
		// Signals are transient; the change feed is the only reader.
		return txn.SetEntry(badger.NewEntry([]byte(key), payload).WithTTL(time.Hour))
	})
}

// SaveTelemetry stores the latest client telemetry for a session.
func (s *Store) SaveTelemetry(_ context.Context, sessionID string, t models.Telemetry) error {
	return s.put(PrefixTelemetry+sessionID, t, 0)
}

// Serve runs periodic value-log GC until ctx is cancelled. It implements
// suture.Service.
func (s *Store) Serve(ctx context.Context) error {
	if s.config.InMemory || s.config.GCInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.runGC(); err != nil {
				logging.Warn().Err(err).Msg("Store value log GC failed")
			}
		}
	}
}

func (s *Store) runGC() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Store) String() string {
	return "session-store"
}

// Close closes the database. Subsequent calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

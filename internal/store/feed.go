// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"

	"github.com/tomtom215/examwatch/internal/logging"
)

// Change is one committed write observed on the change feed.
type Change struct {
	// Table is the key prefix the write matched, e.g. PrefixSignal.
	Table string
	Key   string
	// EntityID is the first key segment after the prefix (usually a session id).
	EntityID string
	Value    []byte
	// Deleted is true for deletes and expirations.
	Deleted bool
	Version uint64
}

// ChangeHandler receives changes in commit order. Returning an error stops
// the subscription.
type ChangeHandler func(Change) error

// Subscribe streams committed writes under the given prefixes to fn until
// ctx is cancelled. It blocks; run it in its own goroutine.
func (s *Store) Subscribe(ctx context.Context, prefixes []string, fn ChangeHandler) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(prefixes) == 0 {
		return errors.New("subscribe: at least one prefix is required")
	}

	matches := make([]pb.Match, 0, len(prefixes))
	for _, p := range prefixes {
		matches = append(matches, pb.Match{Prefix: []byte(p)})
	}

	logging.Debug().Strs("prefixes", prefixes).Msg("Change feed subscribed")

	err := s.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			if err := fn(toChange(kv, prefixes)); err != nil {
				return err
			}
		}
		return nil
	}, matches)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("change feed: %w", err)
	}
	return nil
}

func toChange(kv *pb.KV, prefixes []string) Change {
	key := string(kv.Key)
	c := Change{
		Key:     key,
		Value:   kv.Value,
		Deleted: len(kv.Value) == 0,
		Version: kv.Version,
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			c.Table = p
			rest := strings.TrimPrefix(key, p)
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			c.EntityID = rest
			break
		}
	}
	return c
}

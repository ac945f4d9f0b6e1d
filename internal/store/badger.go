// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists security events and compliance violations in
// BadgerDB. Keys embed a zero-padded unix-nano timestamp so time-range
// queries are prefix scans in key order; a secondary agent index supports
// per-agent filtering.
package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/models"
)

const (
	eventKeyPrefix      = "event:"
	eventAgentKeyPrefix = "event_agent:"
	violationKeyPrefix  = "violation:"
)

// Config holds store settings.
type Config struct {
	// Path is the BadgerDB directory.
	Path string `koanf:"path" validate:"required"`

	// SyncWrites forces fsync on every write.
	SyncWrites bool `koanf:"sync_writes"`

	// Retention is the TTL applied to stored records. Zero keeps records
	// indefinitely.
	Retention time.Duration `koanf:"retention" validate:"min=0"`
}

// Store is the durable append store for events and violations.
type Store struct {
	db  *badger.DB
	cfg Config
}

// Open creates or opens the store at the configured path.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Dur("retention", cfg.Retention).
		Msg("event store opened")
	return &Store{db: db, cfg: cfg}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close event store: %w", err)
	}
	return nil
}

func eventKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", eventKeyPrefix, ts.UnixNano(), id))
}

func eventAgentKey(agentID string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", eventAgentKeyPrefix, agentID, ts.UnixNano(), id))
}

func violationKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", violationKeyPrefix, ts.UnixNano(), id))
}

func (s *Store) set(txn *badger.Txn, key, value []byte) error {
	entry := badger.NewEntry(key, value)
	if s.cfg.Retention > 0 {
		entry = entry.WithTTL(s.cfg.Retention)
	}
	return txn.SetEntry(entry)
}

// SaveEvent durably appends a security event. Writes are at-most-once: a
// failure here is logged by the caller and the event is not requeued.
func (s *Store) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := event.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		primary := eventKey(event.Timestamp, event.EventID)
		if err := s.set(txn, primary, data); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		// Agent index points at the primary key.
		if err := s.set(txn, eventAgentKey(event.AgentID, event.Timestamp, event.EventID), primary); err != nil {
			return fmt.Errorf("set agent index: %w", err)
		}
		return nil
	})
}

// SaveViolation durably appends a compliance violation.
func (s *Store) SaveViolation(ctx context.Context, violation *models.ComplianceViolation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(violation)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := s.set(txn, violationKey(violation.Timestamp, violation.ViolationID), data); err != nil {
			return fmt.Errorf("set violation: %w", err)
		}
		return nil
	})
}

// EventFilter bounds an event query. Zero From/To mean unbounded; a zero
// Limit applies the default of 1000.
type EventFilter struct {
	From    time.Time
	To      time.Time
	AgentID string
	Limit   int
}

const defaultQueryLimit = 1000

// QueryEvents returns events in the time range, oldest first.
func (s *Store) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.SecurityEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var events []*models.SecurityEvent
	err := s.db.View(func(txn *badger.Txn) error {
		if filter.AgentID != "" {
			return s.scanAgentEvents(ctx, txn, filter, limit, &events)
		}
		return s.scanEvents(ctx, txn, filter, limit, &events)
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

func (s *Store) scanEvents(ctx context.Context, txn *badger.Txn, filter EventFilter, limit int, out *[]*models.SecurityEvent) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(eventKeyPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := []byte(eventKeyPrefix)
	if !filter.From.IsZero() {
		seek = []byte(fmt.Sprintf("%s%020d:", eventKeyPrefix, filter.From.UnixNano()))
	}

	for it.Seek(seek); it.Valid() && len(*out) < limit; it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var event *models.SecurityEvent
		err := it.Item().Value(func(val []byte) error {
			var err error
			event, err = models.UnmarshalSecurityEvent(val)
			return err
		})
		if err != nil {
			return err
		}
		if !filter.To.IsZero() && event.Timestamp.After(filter.To) {
			return nil // keys are time-ordered; nothing later matches
		}
		*out = append(*out, event)
	}
	return nil
}

func (s *Store) scanAgentEvents(ctx context.Context, txn *badger.Txn, filter EventFilter, limit int, out *[]*models.SecurityEvent) error {
	prefix := []byte(eventAgentKeyPrefix + filter.AgentID + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if !filter.From.IsZero() {
		seek = []byte(fmt.Sprintf("%s%s:%020d:", eventAgentKeyPrefix, filter.AgentID, filter.From.UnixNano()))
	}

	for it.Seek(seek); it.Valid() && len(*out) < limit; it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var primary []byte
		if err := it.Item().Value(func(val []byte) error {
			primary = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		item, err := txn.Get(primary)
		if err != nil {
			return fmt.Errorf("resolve agent index: %w", err)
		}
		var event *models.SecurityEvent
		if err := item.Value(func(val []byte) error {
			var err error
			event, err = models.UnmarshalSecurityEvent(val)
			return err
		}); err != nil {
			return err
		}
		if !filter.To.IsZero() && event.Timestamp.After(filter.To) {
			return nil
		}
		*out = append(*out, event)
	}
	return nil
}

// QueryViolations returns violations in the time range, oldest first.
func (s *Store) QueryViolations(ctx context.Context, from, to time.Time, limit int) ([]*models.ComplianceViolation, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var violations []*models.ComplianceViolation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(violationKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(violationKeyPrefix)
		if !from.IsZero() {
			seek = []byte(fmt.Sprintf("%s%020d:", violationKeyPrefix, from.UnixNano()))
		}

		for it.Seek(seek); it.Valid() && len(violations) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var v models.ComplianceViolation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			if !to.IsZero() && v.Timestamp.After(to) {
				return nil
			}
			violations = append(violations, &v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	return violations, nil
}

// RetentionWindow reports the configured record retention. Zero retention
// means records are kept indefinitely. Satisfies the compliance scanner's
// retention probe source.
func (s *Store) RetentionWindow(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.cfg.Retention == 0 {
		return time.Duration(math.MaxInt64), nil
	}
	return s.cfg.Retention, nil
}

// RunGC runs Badger value-log garbage collection until no progress is made.
// Called periodically by the supervisor tree.
func (s *Store) RunGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

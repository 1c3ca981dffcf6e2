// Package store holds the canonical, versioned traffic rule set. Mutation
// always produces a new immutable snapshot that is published by an atomic
// pointer swap; concurrent readers never observe a half-written rule set.
package store

import (
	"sync/atomic"

	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/policy"
)

type options struct {
	logger logger.Logger
}

type Option func(opts *options)

func LoggerOption(logger logger.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// Store is the single authority over the rule set. Writers go through
// Commit; readers load the current snapshot without locking.
type Store struct {
	snapshot atomic.Pointer[Snapshot]
	catalogs atomic.Pointer[Catalogs]
	version  atomic.Uint64
	options  options
}

// New builds a store over the given catalogs and initial rules. The initial
// rule set must pass validation.
func New(catalogs *Catalogs, rules []*policy.TrafficRule, opts ...Option) (*Store, []*policy.ValidationError) {
	var options options
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logger.Default()
	}

	s := &Store{
		options: options,
	}
	s.catalogs.Store(catalogs)

	if errs := Validate(rules, catalogs); policy.Fatal(errs) {
		return nil, errs
	}
	s.snapshot.Store(newSnapshot(s.version.Add(1), rules, catalogs))

	return s, nil
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Rules returns a copy of the current rule list.
func (s *Store) Rules() []*policy.TrafficRule {
	return s.Snapshot().Rules()
}

// Catalogs returns the catalogs the store currently validates against.
func (s *Store) Catalogs() *Catalogs {
	return s.catalogs.Load()
}

// SetCatalogs replaces the catalogs and rebuilds the snapshot against them.
// The rule set itself is unchanged; dangling references surface on the next
// Commit, not here, mirroring validation-at-mutation semantics.
func (s *Store) SetCatalogs(catalogs *Catalogs) {
	s.catalogs.Store(catalogs)
	snap := s.snapshot.Load()
	s.snapshot.Store(newSnapshot(s.version.Add(1), snap.rules, catalogs))
}

// Commit validates the candidate rule set as a whole and, on success,
// atomically publishes a new snapshot. On fatal validation errors the
// current snapshot is left untouched.
func (s *Store) Commit(rules []*policy.TrafficRule) (*Snapshot, []*policy.ValidationError) {
	catalogs := s.catalogs.Load()

	errs := Validate(rules, catalogs)
	if policy.Fatal(errs) {
		return nil, errs
	}
	for _, e := range errs {
		s.options.logger.Warnf("commit: %v", e)
	}

	snap := newSnapshot(s.version.Add(1), rules, catalogs)
	s.snapshot.Store(snap)

	s.options.logger.WithFields(map[string]any{
		"kind":    "store",
		"version": snap.Version(),
		"rules":   len(rules),
	}).Debug("snapshot published")

	return snap, errs
}

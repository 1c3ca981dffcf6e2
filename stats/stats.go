// Package stats accounts matches and bytes per rule. Recording goes through
// a buffered channel consumed by a single goroutine, so it never adds
// latency to the resolution path; a full buffer drops the event rather than
// blocking.
package stats

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/policy"
)

const DefaultBufferSize = 1024

type options struct {
	bufferSize int
	logger     logger.Logger
}

type Option func(opts *options)

func BufferSizeOption(n int) Option {
	return func(opts *options) {
		opts.bufferSize = n
	}
}

func LoggerOption(logger logger.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

type event struct {
	ruleID string
	bytes  uint64
}

type counters struct {
	matches uint64
	bytes   uint64
}

type Aggregator struct {
	ch         chan event
	mu         sync.RWMutex
	counters   map[string]*counters
	dropped    atomic.Uint64
	cancelFunc context.CancelFunc
	options    options
}

// NewAggregator creates the aggregator and starts its consumer.
func NewAggregator(opts ...Option) *Aggregator {
	var options options
	for _, opt := range opts {
		opt(&options)
	}
	if options.bufferSize <= 0 {
		options.bufferSize = DefaultBufferSize
	}
	if options.logger == nil {
		options.logger = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Aggregator{
		ch:         make(chan event, options.bufferSize),
		counters:   make(map[string]*counters),
		cancelFunc: cancel,
		options:    options,
	}
	go a.run(ctx)

	return a
}

// Record accounts one resolved flow against the rule. It never blocks; if
// the buffer is full the event is dropped and counted.
func (a *Aggregator) Record(ruleID string, bytes uint64) {
	select {
	case a.ch <- event{ruleID: ruleID, bytes: bytes}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were shed because the buffer was full.
func (a *Aggregator) Dropped() uint64 {
	return a.dropped.Load()
}

// Snapshot returns a copy of the per-rule counters.
func (a *Aggregator) Snapshot() map[string]policy.Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m := make(map[string]policy.Stats, len(a.counters))
	for id, c := range a.counters {
		m[id] = policy.Stats{
			Matches: c.matches,
			Bytes:   c.bytes,
		}
	}
	return m
}

// Reset clears the counters of one rule, or of all rules when ruleID is
// empty. Resets are an explicit administrative operation, never implicit.
func (a *Aggregator) Reset(ruleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ruleID == "" {
		a.counters = make(map[string]*counters)
		return
	}
	delete(a.counters, ruleID)
}

func (a *Aggregator) Close() error {
	a.cancelFunc()
	return nil
}

func (a *Aggregator) run(ctx context.Context) {
	for {
		select {
		case ev := <-a.ch:
			a.apply(ev)
		case <-ctx.Done():
			// drain what is already buffered before stopping
			for {
				select {
				case ev := <-a.ch:
					a.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Aggregator) apply(ev event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.counters[ev.ruleID]
	if c == nil {
		c = &counters{}
		a.counters[ev.ruleID] = c
	}
	c.matches++
	c.bytes += ev.bytes
}

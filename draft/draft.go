// Package draft stages rule-set mutations and commits them atomically.
// Staged changes are invisible to resolution until Apply validates the
// candidate rule set as a whole and publishes a new snapshot; on validation
// failure the draft list is kept so the caller can correct and retry.
package draft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/metrics"
	"github.com/flowctl/policyd/policy"
	"github.com/flowctl/policyd/store"
	"github.com/google/uuid"
	"github.com/rs/xid"
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

// NewSessionID mints an id for a caller-scoped draft session.
func NewSessionID() string {
	return xid.New().String()
}

// Controller is the only writer of a store's rule set. One Apply may be in
// flight per controller; a concurrent call fails fast with
// policy.ErrApplyInProgress.
type Controller struct {
	store    *store.Store
	mu       sync.Mutex
	sessions map[string][]*policy.DraftChange
	applying atomic.Bool
	options  options
}

func NewController(st *store.Store, opts ...Option) *Controller {
	var options options
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logger.Default()
	}

	return &Controller{
		store:    st,
		sessions: make(map[string][]*policy.DraftChange),
		options:  options,
	}
}

// Stage appends a change to the session's ordered draft list and returns
// the draft change id. The change is not validated beyond its shape here;
// full validation happens on Apply against the whole candidate rule set.
func (c *Controller) Stage(sessionID string, action policy.DraftAction, ruleID string, rule *policy.TrafficRule) (string, error) {
	switch action {
	case policy.DraftCreate, policy.DraftUpdate:
		if rule == nil {
			return "", fmt.Errorf("draft: %s requires a rule payload", action)
		}
	case policy.DraftDelete:
		if ruleID == "" {
			return "", fmt.Errorf("draft: delete requires a rule id")
		}
	default:
		return "", fmt.Errorf("draft: unknown action %q", action)
	}

	change := &policy.DraftChange{
		ID:        uuid.NewString(),
		Action:    action,
		RuleID:    ruleID,
		Rule:      rule,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[sessionID] = append(c.sessions[sessionID], change)

	return change.ID, nil
}

// Changes returns a copy of the session's staged change list.
func (c *Controller) Changes(sessionID string) []*policy.DraftChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := make([]*policy.DraftChange, len(c.sessions[sessionID]))
	copy(changes, c.sessions[sessionID])
	return changes
}

// Discard removes one staged change from the session. An empty draftID
// discards the whole session.
func (c *Controller) Discard(sessionID, draftID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if draftID == "" {
		delete(c.sessions, sessionID)
		return nil
	}

	changes := c.sessions[sessionID]
	for i, change := range changes {
		if change.ID == draftID {
			c.sessions[sessionID] = append(changes[:i:i], changes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("draft: change %s not found", draftID)
}

// Apply replays the session's staged changes against a copy of the current
// rule set, validates the candidate as a whole, and on success publishes the
// new snapshot and clears the draft list. Cancelling ctx before the commit
// aborts with the drafts retained; partially-applied state is never
// published.
func (c *Controller) Apply(ctx context.Context, sessionID string) (*store.Snapshot, []*policy.ValidationError, error) {
	if !c.applying.CompareAndSwap(false, true) {
		return nil, nil, policy.ErrApplyInProgress
	}
	defer c.applying.Store(false)

	c.mu.Lock()
	changes := make([]*policy.DraftChange, len(c.sessions[sessionID]))
	copy(changes, c.sessions[sessionID])
	c.mu.Unlock()

	candidate, errs := replay(c.store.Rules(), changes)
	if len(errs) > 0 {
		metrics.GetCounter(metrics.MetricAppliesCounter, metrics.Labels{"result": "invalid"}).Inc()
		return nil, errs, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	snap, errs := c.store.Commit(candidate)
	if snap == nil {
		metrics.GetCounter(metrics.MetricAppliesCounter, metrics.Labels{"result": "invalid"}).Inc()
		return nil, errs, nil
	}
	metrics.GetCounter(metrics.MetricAppliesCounter, metrics.Labels{"result": "ok"}).Inc()

	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	c.options.logger.WithFields(map[string]any{
		"kind":    "draft",
		"session": sessionID,
		"changes": len(changes),
		"version": snap.Version(),
	}).Info("rule set applied")

	return snap, errs, nil
}

// replay builds the candidate rule list. Reference errors found during the
// replay are reported in validation terms so the caller can fix the draft.
func replay(rules []*policy.TrafficRule, changes []*policy.DraftChange) ([]*policy.TrafficRule, []*policy.ValidationError) {
	var errs []*policy.ValidationError

	index := make(map[string]int, len(rules))
	for i, rule := range rules {
		index[rule.ID] = i
	}

	for _, change := range changes {
		switch change.Action {
		case policy.DraftCreate:
			rule := *change.Rule
			if rule.ID == "" {
				rule.ID = uuid.NewString()
			}
			if rule.CreatedAt.IsZero() {
				rule.CreatedAt = change.CreatedAt
			}
			if _, ok := index[rule.ID]; ok {
				errs = append(errs, &policy.ValidationError{
					Kind: policy.ValidationInvalidField,
					Rule: rule.ID,
					Msg:  "create of an existing rule",
				})
				continue
			}
			index[rule.ID] = len(rules)
			rules = append(rules, &rule)

		case policy.DraftUpdate:
			id := change.RuleID
			if id == "" {
				id = change.Rule.ID
			}
			i, ok := index[id]
			if !ok {
				errs = append(errs, &policy.ValidationError{
					Kind: policy.ValidationMissingRef,
					Rule: id,
					Msg:  "update of an unknown rule",
				})
				continue
			}
			rule := *change.Rule
			rule.ID = id
			if rule.CreatedAt.IsZero() {
				rule.CreatedAt = rules[i].CreatedAt
			}
			rules[i] = &rule

		case policy.DraftDelete:
			i, ok := index[change.RuleID]
			if !ok {
				errs = append(errs, &policy.ValidationError{
					Kind: policy.ValidationMissingRef,
					Rule: change.RuleID,
					Msg:  "delete of an unknown rule",
				})
				continue
			}
			rules = append(rules[:i], rules[i+1:]...)
			delete(index, change.RuleID)
			for id, j := range index {
				if j > i {
					index[id] = j - 1
				}
			}
		}
	}

	return rules, errs
}

package registry

import (
	"errors"
	"io"
	"sync"

	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/policy"
)

var (
	ErrDup = errors.New("registry: duplicate object")
)

// Catalog registries hold the entities the engine consumes from its
// collaborators (VLAN/tunnel configuration, WAN/VPN configuration, DNS
// profiles), keyed by entity id. Engine registries hold live objects.
var (
	groupReg   Registry[*policy.ClientGroup]    = new(groupRegistry)
	egressReg  Registry[*policy.EgressPoint]    = new(egressRegistry)
	dnsReg     Registry[*policy.DNSPolicy]      = new(dnsRegistry)
	matcherReg Registry[*policy.TrafficMatcher] = new(matcherRegistry)

	storeReg   Registry[Store]         = new(storeRegistry)
	trackerReg Registry[HealthSource]  = new(trackerRegistry)
	loggerReg  Registry[logger.Logger] = new(loggerRegistry)
)

// Store is the registry-facing view of a rule store; the concrete type lives
// in the store package.
type Store interface {
	Rules() []*policy.TrafficRule
}

// HealthSource is the registry-facing view of a health tracker.
type HealthSource interface {
	State(egressID string) policy.HealthState
}

type Registry[T any] interface {
	Register(name string, v T) error
	Unregister(name string)
	IsRegistered(name string) bool
	Get(name string) T
	GetAll() map[string]T
}

type registry[T any] struct {
	m sync.Map
}

func (r *registry[T]) Register(name string, v T) error {
	if name == "" {
		return nil
	}
	if _, loaded := r.m.LoadOrStore(name, v); loaded {
		return ErrDup
	}

	return nil
}

func (r *registry[T]) Unregister(name string) {
	if v, ok := r.m.Load(name); ok {
		if closer, ok := v.(io.Closer); ok {
			closer.Close()
		}
		r.m.Delete(name)
	}
}

func (r *registry[T]) IsRegistered(name string) bool {
	_, ok := r.m.Load(name)
	return ok
}

func (r *registry[T]) Get(name string) (t T) {
	if name == "" {
		return
	}
	v, _ := r.m.Load(name)
	t, _ = v.(T)
	return
}

func (r *registry[T]) GetAll() (m map[string]T) {
	m = make(map[string]T)
	r.m.Range(func(key, value any) bool {
		k, _ := key.(string)
		v, _ := value.(T)
		m[k] = v
		return true
	})
	return
}

type groupRegistry struct {
	registry[*policy.ClientGroup]
}

type egressRegistry struct {
	registry[*policy.EgressPoint]
}

type dnsRegistry struct {
	registry[*policy.DNSPolicy]
}

type matcherRegistry struct {
	registry[*policy.TrafficMatcher]
}

type storeRegistry struct {
	registry[Store]
}

type trackerRegistry struct {
	registry[HealthSource]
}

type loggerRegistry struct {
	registry[logger.Logger]
}

func GroupRegistry() Registry[*policy.ClientGroup] {
	return groupReg
}

func EgressRegistry() Registry[*policy.EgressPoint] {
	return egressReg
}

func DNSPolicyRegistry() Registry[*policy.DNSPolicy] {
	return dnsReg
}

func MatcherRegistry() Registry[*policy.TrafficMatcher] {
	return matcherReg
}

func StoreRegistry() Registry[Store] {
	return storeReg
}

func TrackerRegistry() Registry[HealthSource] {
	return trackerReg
}

func LoggerRegistry() Registry[logger.Logger] {
	return loggerReg
}

package core

import (
	"context"
	"sync"

	"restorationcore/pkg/domain"
)

// Actor identifies the caller of a service operation. It is passed explicitly
// to every public operation; ClaimedBy and CompletedBy record its ID.
type Actor struct {
	ID             string
	OrganizationID string
}

// Capability names a permission checked before an operation runs.
type Capability string

const (
	CapReadSite          Capability = "read_site"
	CapUpdateSite        Capability = "update_site"
	CapReadObservation   Capability = "read_observation"
	CapManageObservation Capability = "manage_observation"
	CapUpdateObservation Capability = "update_observation"
	CapUpdateT0          Capability = "update_t0"
)

// Target is the entity a capability is checked against.
type Target struct {
	Entity EntityType
	ID     string
}

// PermissionOracle answers capability checks. Evaluation lives outside the engine.
type PermissionOracle interface {
	Allowed(ctx context.Context, actor Actor, capability Capability, target Target) bool
}

// AllowAll grants every capability.
type AllowAll struct{}

// Allowed implements PermissionOracle.
func (AllowAll) Allowed(context.Context, Actor, Capability, Target) bool { return true }

// StaticPermissions grants capabilities per actor ID. An empty target ID in a
// grant applies to every entity of that type.
type StaticPermissions struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]map[Target]struct{}
}

// NewStaticPermissions constructs an empty grant table.
func NewStaticPermissions() *StaticPermissions {
	return &StaticPermissions{grants: make(map[string]map[Capability]map[Target]struct{})}
}

// Grant adds capability on target for actorID.
func (p *StaticPermissions) Grant(actorID string, capability Capability, target Target) *StaticPermissions {
	p.mu.Lock()
	defer p.mu.Unlock()
	byCap, ok := p.grants[actorID]
	if !ok {
		byCap = make(map[Capability]map[Target]struct{})
		p.grants[actorID] = byCap
	}
	targets, ok := byCap[capability]
	if !ok {
		targets = make(map[Target]struct{})
		byCap[capability] = targets
	}
	targets[target] = struct{}{}
	return p
}

// Allowed implements PermissionOracle.
func (p *StaticPermissions) Allowed(_ context.Context, actor Actor, capability Capability, target Target) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	targets := p.grants[actor.ID][capability]
	if _, ok := targets[target]; ok {
		return true
	}
	_, ok := targets[Target{Entity: target.Entity}]
	return ok
}

type actorContextKey struct{}

// ContextWithActor attaches the acting caller to ctx for tracers and recorders.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the caller attached by the service, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// authorize checks read before write: a missing read capability hides the
// target entirely, a missing write capability is reported as access denied.
func (s *Service) authorize(ctx context.Context, actor Actor, read, write Capability, target Target) error {
	if read != "" && !s.permissions.Allowed(ctx, actor, read, target) {
		return domain.NotFound(target.Entity, target.ID)
	}
	if write != "" && !s.permissions.Allowed(ctx, actor, write, target) {
		return domain.AccessDenied(target.Entity, target.ID)
	}
	return nil
}

package ecs

import "fmt"

type record struct {
	components map[ComponentKind]Component
	destroyed  bool
}

// Registry owns entity identity and component storage. Components attached to
// an entity are owned exclusively by the registry; callers mutate them through
// the pointers handed out by Get but must not retain them past destruction.
type Registry struct {
	nextID  EntityID
	records map[EntityID]*record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[EntityID]*record)}
}

// Create allocates a new active entity with no components.
func (r *Registry) Create() EntityID {
	r.nextID++
	id := r.nextID
	r.records[id] = &record{components: make(map[ComponentKind]Component, kindCount)}
	return id
}

// Destroy removes and finalizes all components and marks the entity
// destroyed. Idempotent: destroying twice, or destroying an unknown id, is a
// no-op. Component lookups for the id fail from this point on.
func (r *Registry) Destroy(id EntityID) {
	rec, ok := r.records[id]
	if !ok || rec.destroyed {
		return
	}
	rec.components = nil
	rec.destroyed = true
}

// Alive reports whether the entity exists and has not been destroyed.
func (r *Registry) Alive(id EntityID) bool {
	rec, ok := r.records[id]
	return ok && !rec.destroyed
}

// Add attaches a component to an active entity. At most one component per
// kind per entity.
func (r *Registry) Add(id EntityID, c Component) error {
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("add %s to %d: %w", c.Kind(), id, ErrEntityNotFound)
	}
	if rec.destroyed {
		return fmt.Errorf("add %s to %d: %w", c.Kind(), id, ErrEntityDestroyed)
	}
	if _, exists := rec.components[c.Kind()]; exists {
		return fmt.Errorf("add %s to %d: %w", c.Kind(), id, ErrDuplicateComponent)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	rec.components[c.Kind()] = c
	return nil
}

// Remove detaches the component of the given kind, if present.
func (r *Registry) Remove(id EntityID, kind ComponentKind) error {
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("remove %s from %d: %w", kind, id, ErrEntityNotFound)
	}
	if rec.destroyed {
		return fmt.Errorf("remove %s from %d: %w", kind, id, ErrEntityDestroyed)
	}
	if _, exists := rec.components[kind]; !exists {
		return fmt.Errorf("remove %s from %d: %w", kind, id, ErrComponentNotFound)
	}
	delete(rec.components, kind)
	return nil
}

// Get returns the component of the given kind, or false if the entity is
// gone or lacks it.
func (r *Registry) Get(id EntityID, kind ComponentKind) (Component, bool) {
	rec, ok := r.records[id]
	if !ok || rec.destroyed {
		return nil, false
	}
	c, ok := rec.components[kind]
	return c, ok
}

// Has reports whether the entity holds every one of the given kinds.
func (r *Registry) Has(id EntityID, kinds ...ComponentKind) bool {
	rec, ok := r.records[id]
	if !ok || rec.destroyed {
		return false
	}
	for _, k := range kinds {
		if _, ok := rec.components[k]; !ok {
			return false
		}
	}
	return true
}

// Each calls fn for every active entity.
func (r *Registry) Each(fn func(EntityID)) {
	for id, rec := range r.records {
		if !rec.destroyed {
			fn(id)
		}
	}
}

// Transform returns the entity's Transform component, if attached.
func (r *Registry) Transform(id EntityID) (*Transform, bool) {
	c, ok := r.Get(id, KindTransform)
	if !ok {
		return nil, false
	}
	return c.(*Transform), true
}

// Physics returns the entity's Physics component, if attached.
func (r *Registry) Physics(id EntityID) (*Physics, bool) {
	c, ok := r.Get(id, KindPhysics)
	if !ok {
		return nil, false
	}
	return c.(*Physics), true
}

// Render returns the entity's Render component, if attached.
func (r *Registry) Render(id EntityID) (*Render, bool) {
	c, ok := r.Get(id, KindRender)
	if !ok {
		return nil, false
	}
	return c.(*Render), true
}

// Network returns the entity's Network component, if attached.
func (r *Registry) Network(id EntityID) (*Network, bool) {
	c, ok := r.Get(id, KindNetwork)
	if !ok {
		return nil, false
	}
	return c.(*Network), true
}

// EntityByNetworkID finds the active entity replicated under the given
// network id. Linear over active entities; fine at room scale.
func (r *Registry) EntityByNetworkID(networkID string) (EntityID, bool) {
	for id, rec := range r.records {
		if rec.destroyed {
			continue
		}
		if net, ok := rec.components[KindNetwork]; ok && net.(*Network).NetworkID == networkID {
			return id, true
		}
	}
	return 0, false
}

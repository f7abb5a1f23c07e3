package ecs

import (
	"time"

	"github.com/stormsync/stormsync/internal/core/observability/log"
)

// System is a per-tick logic processor over a subset of entities.
type System interface {
	Name() string

	// ShouldProcess is the membership predicate, evaluated over the entity's
	// current component set.
	ShouldProcess(id EntityID) bool

	// Add and Remove notify the system of membership changes. Remove is
	// always delivered before the entity is destroyed.
	Add(id EntityID)
	Remove(id EntityID)

	Update(dt float64)

	// Cleanup releases the system's internal resources.
	Cleanup()
}

// PhaseTiming records how long one system took during a tick.
type PhaseTiming struct {
	Name    string
	Elapsed time.Duration
}

// World runs registered systems over matching entities in registration
// order. Order is a correctness dependency: gameplay systems run before the
// physics bridge, which runs before network synchronization.
//
// All entity and component mutation goes through the World so that system
// membership stays consistent with the component sets.
type World struct {
	registry *Registry
	systems  []System
	members  []map[EntityID]struct{}
	logger   log.Log
}

func NewWorld(registry *Registry, logger log.Log) *World {
	return &World{
		registry: registry,
		logger:   logger.With(log.String("component", "world")),
	}
}

func (w *World) Registry() *Registry { return w.registry }

// Register adds a system at the end of the update order and evaluates every
// existing entity against its predicate.
func (w *World) Register(s System) {
	w.systems = append(w.systems, s)
	members := make(map[EntityID]struct{})
	w.members = append(w.members, members)
	w.registry.Each(func(id EntityID) {
		if s.ShouldProcess(id) {
			members[id] = struct{}{}
			s.Add(id)
		}
	})
	w.logger.Debug("system registered", log.String("system", s.Name()), log.Int("members", len(members)))
}

// Create allocates an entity and checks it against every registered system.
func (w *World) Create() EntityID {
	id := w.registry.Create()
	w.refresh(id)
	return id
}

// Destroy removes the entity from every system that holds it, then destroys
// it in the registry. Systems never observe a destroyed entity.
func (w *World) Destroy(id EntityID) {
	for i, s := range w.systems {
		if _, ok := w.members[i][id]; ok {
			s.Remove(id)
			delete(w.members[i], id)
		}
	}
	w.registry.Destroy(id)
}

// Add attaches a component and re-evaluates system membership for the
// entity.
func (w *World) Add(id EntityID, c Component) error {
	if err := w.registry.Add(id, c); err != nil {
		return err
	}
	w.refresh(id)
	return nil
}

// Remove detaches a component and re-evaluates system membership for the
// entity.
func (w *World) Remove(id EntityID, kind ComponentKind) error {
	if err := w.registry.Remove(id, kind); err != nil {
		return err
	}
	w.refresh(id)
	return nil
}

// Update runs each system once, in registration order, and reports how long
// each took.
func (w *World) Update(dt float64) []PhaseTiming {
	timings := make([]PhaseTiming, len(w.systems))
	for i, s := range w.systems {
		start := time.Now()
		s.Update(dt)
		timings[i] = PhaseTiming{Name: s.Name(), Elapsed: time.Since(start)}
	}
	return timings
}

// Cleanup releases all systems and clears membership. The registry and its
// entities survive; only scheduling state is dropped.
func (w *World) Cleanup() {
	for _, s := range w.systems {
		s.Cleanup()
	}
	w.systems = nil
	w.members = nil
}

func (w *World) refresh(id EntityID) {
	alive := w.registry.Alive(id)
	for i, s := range w.systems {
		_, member := w.members[i][id]
		match := alive && s.ShouldProcess(id)
		switch {
		case match && !member:
			w.members[i][id] = struct{}{}
			s.Add(id)
		case !match && member:
			s.Remove(id)
			delete(w.members[i], id)
		}
	}
}

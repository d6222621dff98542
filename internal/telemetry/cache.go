package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/wipmate/homectl/internal/protocol"
	"github.com/wipmate/homectl/internal/registry"
)

// Sample is the latest telemetry received for one entity, plus when the
// controller received it. It is owned by the cache and may briefly outlive
// registry churn between a removal and the cache purge that follows it.
type Sample struct {
	Payload    protocol.Payload
	ReceivedAt time.Time
}

// Cache holds the latest sample per entity and the newness tracker.
//
// Publish is last-write-wins: out-of-order samples are accepted without a
// timestamp guard, matching the fire-and-forget nature of the data channel.
//
// Thread Safety: all methods are safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	sensors   map[string]Sample
	actuators map[string]Sample

	// Names registered since the last served system-state query, drained and
	// cleared exactly once per query.
	newSensors   map[string]struct{}
	newActuators map[string]struct{}
}

// NewCache creates an empty telemetry cache.
func NewCache() *Cache {
	return &Cache{
		sensors:      make(map[string]Sample),
		actuators:    make(map[string]Sample),
		newSensors:   make(map[string]struct{}),
		newActuators: make(map[string]struct{}),
	}
}

// Publish upserts the latest sample for (type, name).
func (c *Cache) Publish(typ protocol.EntityType, name string, payload protocol.Payload, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples(typ)[name] = Sample{Payload: payload, ReceivedAt: at}
}

// Lookup returns the latest sample for (type, name), if any.
func (c *Cache) Lookup(typ protocol.EntityType, name string) (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.samples(typ)[name]
	return s, ok
}

// MarkNew records a registration for the newness tracker.
func (c *Cache) MarkNew(typ protocol.EntityType, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.newness(typ)[name] = struct{}{}
}

// Forget purges everything cached for (type, name). Called when the owning
// record is removed, so a recycled name never surfaces a predecessor's data.
func (c *Cache) Forget(typ protocol.EntityType, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.samples(typ), name)
	delete(c.newness(typ), name)
}

// SystemState assembles the answer to a system-state query from the given
// registry snapshot: the latest sample for every active entity that has one
// (entities without a sample yet are simply omitted), plus the drained
// newness sets.
//
// Draining happens exactly once: a second query without intervening
// registrations sees the same maps but empty newness lists.
func (c *Cache) SystemState(active []registry.Record) *protocol.SystemState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := &protocol.SystemState{
		Sensors:      make(map[string]protocol.Measurement),
		Actuators:    make(map[string]protocol.ActuatorState),
		NewSensors:   drain(c.newSensors),
		NewActuators: drain(c.newActuators),
	}

	for _, rec := range active {
		switch rec.Type {
		case protocol.EntityTypeSensor:
			if s, ok := c.sensors[rec.Name]; ok {
				if m, ok := s.Payload.(*protocol.Measurement); ok {
					state.Sensors[rec.Name] = *m
				}
			}
		case protocol.EntityTypeActuator:
			if s, ok := c.actuators[rec.Name]; ok {
				if a, ok := s.Payload.(*protocol.ActuatorState); ok {
					state.Actuators[rec.Name] = *a
				}
			}
		}
	}

	return state
}

// samples returns the sample map for a namespace. Callers hold c.mu.
func (c *Cache) samples(typ protocol.EntityType) map[string]Sample {
	if typ == protocol.EntityTypeSensor {
		return c.sensors
	}
	return c.actuators
}

// newness returns the newness set for a namespace. Callers hold c.mu.
func (c *Cache) newness(typ protocol.EntityType) map[string]struct{} {
	if typ == protocol.EntityTypeSensor {
		return c.newSensors
	}
	return c.newActuators
}

// drain empties a newness set into a sorted name list.
func drain(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
		delete(set, name)
	}
	sort.Strings(names)
	return names
}

package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/wipmate/homectl/internal/protocol"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BackChannel is the handle to a controller-initiated entity connection.
// It is owned by the Record holding it; whoever removes the record closes it.
type BackChannel interface {
	Request(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error)
	Close() error
}

// Endpoint is where an entity accepts back-channel connections.
type Endpoint struct {
	Host string
	Port int
}

// String returns the endpoint in dialable host:port form. IPv6 hosts are
// bracketed.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Record is the registry's view of one active entity.
//
// The record existing at all is what "active" means: there is no status
// field, and the back-channel connection is believed healthy for exactly as
// long as the record exists.
type Record struct {
	Name          string
	Type          protocol.EntityType
	Endpoint      Endpoint
	Conn          BackChannel
	LastHeartbeat time.Time
}

// key identifies a record. Sensors and actuators are independent namespaces.
type key struct {
	typ  protocol.EntityType
	name string
}

// Registry owns the authoritative map of registered entities.
//
// All mutation is exclusive; reads may run concurrently with other reads.
// No operation blocks on I/O; connecting and disconnecting back-channels is
// the caller's job, outside the lock.
type Registry struct {
	mu       sync.RWMutex
	entities map[key]*Record
	logger   Logger
	now      func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entities: make(map[key]*Record),
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register creates a record for (type, name). The back-channel connection
// must already be established; a dial failure is surfaced to the registering
// entity before any record exists.
//
// Returns ErrAlreadyRegistered if the name is taken in its type's namespace;
// the caller must then close conn itself.
func (r *Registry) Register(name string, typ protocol.EntityType, ep Endpoint, conn BackChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{typ: typ, name: name}
	if _, exists := r.entities[k]; exists {
		return fmt.Errorf("%w: %s %q", ErrAlreadyRegistered, typ, name)
	}

	r.entities[k] = &Record{
		Name:          name,
		Type:          typ,
		Endpoint:      ep,
		Conn:          conn,
		LastHeartbeat: r.now(),
	}

	r.logger.Info("entity registered", "type", typ, "name", name, "endpoint", ep.String())
	return nil
}

// Heartbeat refreshes the liveness timestamp of (type, name).
//
// The timestamp is monotonically non-decreasing while the record exists.
// Returns ErrNotRegistered if no record exists.
func (r *Registry) Heartbeat(name string, typ protocol.EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.entities[key{typ: typ, name: name}]
	if !exists {
		return fmt.Errorf("%w: %s %q", ErrNotRegistered, typ, name)
	}

	if now := r.now(); now.After(rec.LastHeartbeat) {
		rec.LastHeartbeat = now
	}
	return nil
}

// Unregister removes the record for (type, name) and returns it so the
// caller can close its back-channel connection.
//
// Returns ErrNotRegistered if no record exists.
func (r *Registry) Unregister(name string, typ protocol.EntityType) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{typ: typ, name: name}
	rec, exists := r.entities[k]
	if !exists {
		return Record{}, fmt.Errorf("%w: %s %q", ErrNotRegistered, typ, name)
	}

	delete(r.entities, k)
	r.logger.Info("entity unregistered", "type", typ, "name", name)
	return *rec, nil
}

// ExpireIf removes the record for (type, name) only if its heartbeat
// timestamp still matches what the caller observed. A concurrent heartbeat
// that revived the entity between observation and removal wins, and the
// record stays.
//
// Returns the removed record and true on removal.
func (r *Registry) ExpireIf(name string, typ protocol.EntityType, observed time.Time) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{typ: typ, name: name}
	rec, exists := r.entities[k]
	if !exists || !rec.LastHeartbeat.Equal(observed) {
		return Record{}, false
	}

	delete(r.entities, k)
	r.logger.Info("entity expired", "type", typ, "name", name, "last_heartbeat", observed)
	return *rec, true
}

// Lookup returns a copy of the record for (type, name), if it exists.
func (r *Registry) Lookup(name string, typ protocol.EntityType) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.entities[key{typ: typ, name: name}]
	if !exists {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all current records.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.entities))
	for _, rec := range r.entities {
		records = append(records, *rec)
	}
	return records
}

// Len returns the number of registered entities across both namespaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

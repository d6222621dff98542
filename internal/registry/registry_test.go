package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wipmate/homectl/internal/protocol"
)

// fakeConn is a test BackChannel that records Close calls.
type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) Request(_ context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	return env.Reply(protocol.OkResponse()), nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testEndpoint() Endpoint {
	return Endpoint{Host: "127.0.0.1", Port: 4001}
}

func TestEndpointStringIsDialable(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want string
	}{
		{"ipv4", Endpoint{Host: "127.0.0.1", Port: 4001}, "127.0.0.1:4001"},
		{"ipv6 loopback", Endpoint{Host: "::1", Port: 4001}, "[::1]:4001"},
		{"hostname", Endpoint{Host: "sensor-1.local", Port: 9000}, "sensor-1.local:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ep.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegisterThenHeartbeat(t *testing.T) {
	r := New()

	if err := r.Register("kitchen-temp", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Heartbeat("kitchen-temp", protocol.EntityTypeSensor); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()

	if err := r.Register("kitchen-temp", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := r.Register("kitchen-temp", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second Register() error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestNamespacesAreIndependent(t *testing.T) {
	r := New()

	if err := r.Register("shared-name", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("sensor Register() error = %v", err)
	}
	if err := r.Register("shared-name", protocol.EntityTypeActuator, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("actuator Register() with same name error = %v", err)
	}
	if got := r.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestUnregisterUnknownFails(t *testing.T) {
	r := New()

	_, err := r.Unregister("ghost", protocol.EntityTypeSensor)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Unregister() error = %v, want ErrNotRegistered", err)
	}
}

func TestUnregisterReleasesName(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	if err := r.Register("kitchen-temp", protocol.EntityTypeSensor, testEndpoint(), conn); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec, err := r.Unregister("kitchen-temp", protocol.EntityTypeSensor)
	if err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if rec.Conn != conn {
		t.Error("Unregister() did not return the record's connection")
	}

	// Heartbeat after removal is rejected: the name is released.
	if err := r.Heartbeat("kitchen-temp", protocol.EntityTypeSensor); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Heartbeat() after Unregister error = %v, want ErrNotRegistered", err)
	}

	// And the name can be re-registered.
	if err := r.Register("kitchen-temp", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}
}

func TestHeartbeatIsMonotonic(t *testing.T) {
	r := New()
	base := time.Now()
	r.now = func() time.Time { return base }

	if err := r.Register("s", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Clock moves backwards: timestamp must not regress.
	r.now = func() time.Time { return base.Add(-time.Minute) }
	if err := r.Heartbeat("s", protocol.EntityTypeSensor); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	rec, _ := r.Lookup("s", protocol.EntityTypeSensor)
	if rec.LastHeartbeat.Before(base) {
		t.Errorf("LastHeartbeat regressed to %v, want >= %v", rec.LastHeartbeat, base)
	}

	// Clock moves forward: timestamp advances.
	r.now = func() time.Time { return base.Add(time.Minute) }
	if err := r.Heartbeat("s", protocol.EntityTypeSensor); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	rec, _ = r.Lookup("s", protocol.EntityTypeSensor)
	if !rec.LastHeartbeat.Equal(base.Add(time.Minute)) {
		t.Errorf("LastHeartbeat = %v, want %v", rec.LastHeartbeat, base.Add(time.Minute))
	}
}

func TestExpireIfRemovesUnchangedRecord(t *testing.T) {
	r := New()
	base := time.Now()
	r.now = func() time.Time { return base }

	if err := r.Register("s", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec, _ := r.Lookup("s", protocol.EntityTypeSensor)
	removed, ok := r.ExpireIf("s", protocol.EntityTypeSensor, rec.LastHeartbeat)
	if !ok {
		t.Fatal("ExpireIf() = false, want removal")
	}
	if removed.Name != "s" {
		t.Errorf("removed record name = %q, want s", removed.Name)
	}
	if _, exists := r.Lookup("s", protocol.EntityTypeSensor); exists {
		t.Error("record still present after expiry")
	}
}

func TestExpireIfLosesToConcurrentHeartbeat(t *testing.T) {
	r := New()
	base := time.Now()
	r.now = func() time.Time { return base }

	if err := r.Register("s", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	observed, _ := r.Lookup("s", protocol.EntityTypeSensor)

	// Heartbeat lands between the sweep's observation and its removal.
	r.now = func() time.Time { return base.Add(time.Second) }
	if err := r.Heartbeat("s", protocol.EntityTypeSensor); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}

	if _, ok := r.ExpireIf("s", protocol.EntityTypeSensor, observed.LastHeartbeat); ok {
		t.Fatal("ExpireIf() removed a revived record")
	}
	if _, exists := r.Lookup("s", protocol.EntityTypeSensor); !exists {
		t.Error("revived record should still exist")
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	r := New()
	if err := r.Register("s", protocol.EntityTypeSensor, testEndpoint(), &fakeConn{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}
	snap[0].Name = "mutated"

	rec, _ := r.Lookup("s", protocol.EntityTypeSensor)
	if rec.Name != "s" {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := string(rune('a' + n))
			_ = r.Register(name, protocol.EntityTypeSensor, testEndpoint(), &fakeConn{})
			_ = r.Heartbeat(name, protocol.EntityTypeSensor)
			r.Snapshot()
			_, _ = r.Lookup(name, protocol.EntityTypeSensor)
			if n%2 == 0 {
				_, _ = r.Unregister(name, protocol.EntityTypeSensor)
			}
		}(i)
	}
	wg.Wait()

	if got := r.Len(); got != 8 {
		t.Errorf("Len() = %d, want 8", got)
	}
}

package persist

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"location-hub/internal/general/logger"
	"location-hub/internal/general/postgres"
	"location-hub/internal/hub"
)

type recordedPut struct {
	path  string
	value any
}

type fakeStore struct {
	mu   sync.Mutex
	puts []recordedPut
}

func (s *fakeStore) Put(_ context.Context, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, recordedPut{path: path, value: value})
	return nil
}

func (s *fakeStore) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.puts))
	for i, p := range s.puts {
		out[i] = p.path
	}
	return out
}

func (s *fakeStore) find(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.puts {
		if p.path == path {
			return p.value, true
		}
	}
	return nil, false
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (p *fakePublisher) PublishEvent(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, body)
	return nil
}

type fakeArchiver struct {
	mu   sync.Mutex
	recs []*postgres.HistoryRecord
}

func (a *fakeArchiver) Archive(_ context.Context, rec *postgres.HistoryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

// newTestGateway wires a gateway onto a single-worker dispatcher so tests
// can flush all pending jobs deterministically with flush().
func newTestGateway() (*Gateway, *fakeStore, func()) {
	log := logger.New("test")
	disp := NewDispatcher(1, 64, log)
	store := &fakeStore{}
	return NewGateway(disp, store, log), store, disp.Close
}

func hasPath(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

func TestGatewayBackendPaths(t *testing.T) {
	g, store, flush := newTestGateway()

	g.DriverConnected("d1", "r1", "t0")
	g.LocationUpdated("d1", "r1", hub.Location{Latitude: 1, Longitude: 2, Timestamp: "t1"})
	g.Heartbeat("d1", "t2")
	g.WaypointEvent("d1", "t3", map[string]any{"event": "waypoint_approaching"})
	g.RideEvent("d1", "r1", "t4", map[string]any{"event": "pickup_arrival"})
	g.DriverDisconnected("d1", "t5")
	flush()

	paths := store.paths()
	want := []string{
		"driver_connections/d1",
		"driver_locations/d1/current",
		"driver_locations/d1/history/t1",
		"driver_heartbeats/d1",
		"ride_events/d1/waypoints/t3",
		"ride_events/d1/r1/t4",
		"driver_connections/d1/status",
	}
	for _, w := range want {
		if !hasPath(paths, w) {
			t.Errorf("missing write to %s (got %v)", w, paths)
		}
	}
	if len(paths) != len(want) {
		t.Errorf("wrote %d paths, want %d: %v", len(paths), len(want), paths)
	}
}

func TestGatewayConnectionRecords(t *testing.T) {
	g, store, flush := newTestGateway()

	g.DriverConnected("d1", "r1", "t0")
	g.DriverDisconnected("d1", "t1")
	flush()

	v, ok := store.find("driver_connections/d1")
	if !ok {
		t.Fatal("no connection record written")
	}
	rec := v.(map[string]any)
	if rec["status"] != "connected" || rec["ride_id"] != "r1" || rec["connected_at"] != "t0" {
		t.Errorf("connection record = %v", rec)
	}

	v, ok = store.find("driver_connections/d1/status")
	if !ok {
		t.Fatal("no disconnect record written")
	}
	rec = v.(map[string]any)
	if rec["status"] != "disconnected" || rec["disconnected_at"] != "t1" {
		t.Errorf("disconnect record = %v", rec)
	}
}

func TestGatewayLocationSnapshotFields(t *testing.T) {
	g, store, flush := newTestGateway()

	speed := 42.5
	g.LocationUpdated("d1", "r1", hub.Location{
		Latitude: 1.5, Longitude: 2.5, Speed: &speed, Timestamp: "t1",
	})
	flush()

	v, ok := store.find("driver_locations/d1/current")
	if !ok {
		t.Fatal("no current snapshot written")
	}
	snap := v.(map[string]any)
	if snap["latitude"] != 1.5 || snap["longitude"] != 2.5 || snap["speed"] != 42.5 {
		t.Errorf("snapshot = %v", snap)
	}
	if _, present := snap["heading"]; present {
		t.Error("absent optional field written anyway")
	}
}

func TestGatewayEventMirror(t *testing.T) {
	g, _, flush := newTestGateway()
	pub := &fakePublisher{}
	g.AttachEventMirror(pub)

	g.LocationUpdated("d1", "r1", hub.Location{Latitude: 1, Longitude: 2, Timestamp: "t1"})
	g.RideEvent("d1", "r1", "t2", map[string]any{"event": "passenger_picked_up"})
	flush()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.bodies) != 2 {
		t.Fatalf("published %d envelopes, want 2", len(pub.bodies))
	}

	var envelope struct {
		EventID string         `json:"event_id"`
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(pub.bodies[0], &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Kind != "location_update" || envelope.EventID == "" {
		t.Errorf("envelope = %+v", envelope)
	}
	if envelope.Payload["driver_id"] != "d1" {
		t.Errorf("payload = %v", envelope.Payload)
	}
}

func TestGatewayArchive(t *testing.T) {
	g, _, flush := newTestGateway()
	arch := &fakeArchiver{}
	g.AttachArchive(arch)

	heading := 180.0
	g.LocationUpdated("d1", "r1", hub.Location{
		Latitude: 1, Longitude: 2, Heading: &heading, Timestamp: "t1",
	})
	flush()

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.recs) != 1 {
		t.Fatalf("archived %d rows, want 1", len(arch.recs))
	}
	rec := arch.recs[0]
	if rec.DriverID != "d1" || rec.RideID != "r1" || rec.Latitude != 1 || rec.RecordedAt != "t1" {
		t.Errorf("record = %+v", rec)
	}
	if rec.HeadingDegrees == nil || *rec.HeadingDegrees != 180 {
		t.Errorf("heading = %v", rec.HeadingDegrees)
	}
	if rec.ID == "" {
		t.Error("record has no id")
	}
}

func TestGatewayMirrorsOffByDefault(t *testing.T) {
	g, store, flush := newTestGateway()

	// neither mirror attached: only the backend writes happen
	g.LocationUpdated("d1", "r1", hub.Location{Latitude: 1, Longitude: 2, Timestamp: "t1"})
	flush()

	if got := len(store.paths()); got != 2 {
		t.Errorf("wrote %d paths, want 2: %v", got, store.paths())
	}
}

package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"location-hub/internal/general/logger"
	"location-hub/internal/general/postgres"
	"location-hub/internal/hub"

	"github.com/google/uuid"
)

// Store is the authenticated path-addressed write surface of the
// persistence backend.
type Store interface {
	Put(ctx context.Context, path string, value any) error
}

// EventPublisher mirrors ride events to a broker exchange for downstream
// consumers.
type EventPublisher interface {
	PublishEvent(body []byte) error
}

// Archiver appends location history rows to the local archive.
type Archiver interface {
	Archive(ctx context.Context, rec *postgres.HistoryRecord) error
}

// Gateway turns router-side events into asynchronous, non-blocking writes
// against the backend, plus optional mirrors to AMQP and the Postgres
// archive. Every method returns before any I/O happens; failures are
// logged by the dispatcher and never reach the originating client.
type Gateway struct {
	disp    *Dispatcher
	store   Store
	log     *logger.Logger
	events  EventPublisher
	archive Archiver
}

func NewGateway(disp *Dispatcher, store Store, log *logger.Logger) *Gateway {
	return &Gateway{disp: disp, store: store, log: log}
}

// AttachEventMirror enables best-effort publication of location updates and
// ride events to the broker.
func (g *Gateway) AttachEventMirror(pub EventPublisher) { g.events = pub }

// AttachArchive enables the append-only location history archive.
func (g *Gateway) AttachArchive(a Archiver) { g.archive = a }

// DriverConnected records a fresh driver connection.
func (g *Gateway) DriverConnected(driverID, rideID, timestamp string) {
	g.disp.Enqueue("driver_connected", func(ctx context.Context) error {
		return g.store.Put(ctx, "driver_connections/"+driverID, map[string]any{
			"driver_id":    driverID,
			"ride_id":      rideID,
			"status":       "connected",
			"connected_at": timestamp,
		})
	})
}

// LocationUpdated writes the current snapshot, appends a history entry,
// and feeds the optional mirrors.
func (g *Gateway) LocationUpdated(driverID, rideID string, loc hub.Location) {
	snapshot := map[string]any{
		"driver_id": driverID,
		"ride_id":   rideID,
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
		"timestamp": loc.Timestamp,
	}
	if loc.Speed != nil {
		snapshot["speed"] = *loc.Speed
	}
	if loc.Heading != nil {
		snapshot["heading"] = *loc.Heading
	}
	if loc.Accuracy != nil {
		snapshot["accuracy"] = *loc.Accuracy
	}

	g.disp.Enqueue("location_current", func(ctx context.Context) error {
		return g.store.Put(ctx, "driver_locations/"+driverID+"/current", snapshot)
	})
	g.disp.Enqueue("location_history", func(ctx context.Context) error {
		return g.store.Put(ctx, "driver_locations/"+driverID+"/history/"+loc.Timestamp, snapshot)
	})

	if g.archive != nil {
		rec := &postgres.HistoryRecord{
			ID:             uuid.NewString(),
			DriverID:       driverID,
			RideID:         rideID,
			Latitude:       loc.Latitude,
			Longitude:      loc.Longitude,
			SpeedKMH:       loc.Speed,
			HeadingDegrees: loc.Heading,
			AccuracyMeters: loc.Accuracy,
			RecordedAt:     loc.Timestamp,
		}
		g.disp.Enqueue("location_archive", func(ctx context.Context) error {
			return g.archive.Archive(ctx, rec)
		})
	}

	g.mirror("location_update", snapshot)
}

// Heartbeat records the driver's latest liveness signal.
func (g *Gateway) Heartbeat(driverID, timestamp string) {
	g.disp.Enqueue("heartbeat", func(ctx context.Context) error {
		return g.store.Put(ctx, "driver_heartbeats/"+driverID, map[string]any{
			"driver_id": driverID,
			"last_seen": timestamp,
			"status":    "alive",
		})
	})
}

// WaypointEvent records a waypoint-approach event under the driver's
// waypoint stream.
func (g *Gateway) WaypointEvent(driverID, timestamp string, event map[string]any) {
	g.disp.Enqueue("waypoint_event", func(ctx context.Context) error {
		return g.store.Put(ctx, "ride_events/"+driverID+"/waypoints/"+timestamp, event)
	})
	g.mirror("waypoint_event", event)
}

// RideEvent records a timestamped lifecycle event for a ride.
func (g *Gateway) RideEvent(driverID, rideID, timestamp string, event map[string]any) {
	g.disp.Enqueue("ride_event", func(ctx context.Context) error {
		return g.store.Put(ctx, "ride_events/"+driverID+"/"+rideID+"/"+timestamp, event)
	})
	g.mirror("ride_event", event)
}

// DriverDisconnected marks the driver's connection record as gone.
func (g *Gateway) DriverDisconnected(driverID, timestamp string) {
	g.disp.Enqueue("driver_disconnected", func(ctx context.Context) error {
		return g.store.Put(ctx, "driver_connections/"+driverID+"/status", map[string]any{
			"status":          "disconnected",
			"disconnected_at": timestamp,
		})
	})
}

// mirror publishes an event envelope to the broker when the mirror is
// attached, as another fire-and-forget job.
func (g *Gateway) mirror(kind string, payload map[string]any) {
	if g.events == nil {
		return
	}

	envelope := map[string]any{
		"event_id": uuid.NewString(),
		"kind":     kind,
		"payload":  payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		g.log.Error(context.Background(), "event_mirror_encode_failed", "Failed to encode event envelope", err, map[string]any{
			"kind": kind,
		})
		return
	}

	g.disp.Enqueue("event_mirror", func(ctx context.Context) error {
		if err := g.events.PublishEvent(body); err != nil {
			return fmt.Errorf("publish %s event: %w", kind, err)
		}
		return nil
	})
}

package hub

import (
	"context"

	"location-hub/internal/domain/session"
	"location-hub/internal/general/logger"
)

// Broadcaster pushes best-effort notifications to the peers interested in a
// driver-state mutation. It reads the registry under the registry's own
// lock but performs every connection write outside it, so one slow peer
// never stalls registry mutations for unrelated sessions.
type Broadcaster struct {
	registry *Registry
	log      *logger.Logger
}

func NewBroadcaster(registry *Registry, log *logger.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, log: log}
}

// DriverLocation fans a location update out to every passenger tracking the
// driver. A write failure to one passenger is logged and skipped; it aborts
// neither delivery to the others nor the driver's own acknowledgment.
func (b *Broadcaster) DriverLocation(ctx context.Context, driverID string, loc Location) {
	tracking := b.registry.PassengersTracking(driverID)
	if len(tracking) == 0 {
		return
	}

	doc := map[string]any{
		"type":      "driver_location_update",
		"driver_id": driverID,
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
		"timestamp": loc.Timestamp,
	}
	if loc.Speed != nil {
		doc["speed"] = *loc.Speed
	}
	if loc.Heading != nil {
		doc["heading"] = *loc.Heading
	}
	if loc.Accuracy != nil {
		doc["accuracy"] = *loc.Accuracy
	}

	delivered := 0
	for _, p := range tracking {
		if err := p.Conn.WriteJSON(doc); err != nil {
			b.log.Error(ctx, "broadcast_write_failed", "Failed to push location update to passenger", err, map[string]any{
				"passenger_id": p.PassengerID,
			})
			continue
		}
		delivered++
	}

	b.log.Debug(ctx, "location_broadcast", "Location update fanned out", map[string]any{
		"tracking":  len(tracking),
		"delivered": delivered,
	})
}

// PassengerConnected pushes the two welcome messages to a freshly
// registered passenger (current driver location, then a pickup
// confirmation notice) and tells a live driver someone started tracking it.
func (b *Broadcaster) PassengerConnected(ctx context.Context, passengerID, driverID string, passengerConn session.Conn) {
	driverConn, state, ok := b.registry.Driver(driverID)

	switch {
	case !ok:
		b.writeTo(ctx, passengerConn, passengerID, map[string]any{
			"type":      "driver_not_available",
			"driver_id": driverID,
			"message":   "Driver is not currently connected",
			"timestamp": nowTimestamp(),
		})
	case state == nil:
		// Session without state should not happen; report it rather than crash.
		b.writeTo(ctx, passengerConn, passengerID, map[string]any{
			"type":      "driver_info_not_available",
			"driver_id": driverID,
			"timestamp": nowTimestamp(),
		})
	default:
		b.writeTo(ctx, passengerConn, passengerID, map[string]any{
			"type":      "driver_location",
			"driver_id": driverID,
			"ride_id":   state.RideID,
			"latitude":  state.LastLatitude,
			"longitude": state.LastLongitude,
			"timestamp": nowTimestamp(),
		})
	}

	b.writeTo(ctx, passengerConn, passengerID, map[string]any{
		"type":      "pickup_confirmation",
		"driver_id": driverID,
		"message":   "You are now tracking your driver",
		"timestamp": nowTimestamp(),
	})

	if ok && driverConn != nil {
		if err := driverConn.WriteJSON(map[string]any{
			"type":         "passenger_connected",
			"passenger_id": passengerID,
			"timestamp":    nowTimestamp(),
		}); err != nil {
			b.log.Error(ctx, "driver_notify_failed", "Failed to notify driver about new passenger", err, map[string]any{
				"driver_id": driverID,
			})
		}
	}
}

// PassengerDisconnected tells the tracked driver, if live, that the
// passenger went away.
func (b *Broadcaster) PassengerDisconnected(ctx context.Context, passengerID, driverID string) {
	driverConn, _, ok := b.registry.Driver(driverID)
	if !ok {
		return
	}
	if err := driverConn.WriteJSON(map[string]any{
		"type":         "passenger_disconnected",
		"passenger_id": passengerID,
		"timestamp":    nowTimestamp(),
	}); err != nil {
		b.log.Error(ctx, "driver_notify_failed", "Failed to notify driver about passenger disconnect", err, map[string]any{
			"driver_id": driverID,
		})
	}
}

// PickupConfirmed pushes a direct pickup-confirmed notice to the named
// passenger. If the passenger has no live connection this is a no-op;
// there is no offline queuing.
func (b *Broadcaster) PickupConfirmed(ctx context.Context, passengerID, driverID, rideID string) {
	conn, _, ok := b.registry.Passenger(passengerID)
	if !ok {
		b.log.Debug(ctx, "pickup_notice_skipped", "Picked-up passenger has no live connection", map[string]any{
			"passenger_id": passengerID,
		})
		return
	}

	b.writeTo(ctx, conn, passengerID, map[string]any{
		"type":      "pickup_confirmed",
		"driver_id": driverID,
		"ride_id":   rideID,
		"message":   "Your driver has confirmed the pickup",
		"timestamp": nowTimestamp(),
	})
}

func (b *Broadcaster) writeTo(ctx context.Context, conn session.Conn, passengerID string, doc map[string]any) {
	if err := conn.WriteJSON(doc); err != nil {
		b.log.Error(ctx, "passenger_notify_failed", "Failed to push notification to passenger", err, map[string]any{
			"passenger_id": passengerID,
			"type":         doc["type"],
		})
	}
}

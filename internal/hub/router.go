package hub

import (
	"context"
	"encoding/json"
	"errors"

	"location-hub/internal/domain/session"
	"location-hub/internal/general/logger"
)

// Persister receives the registry mutations and ride events that should
// outlive the session. Implementations must be asynchronous: the router
// never waits for a backend write before acknowledging the client.
type Persister interface {
	DriverConnected(driverID, rideID, timestamp string)
	LocationUpdated(driverID, rideID string, loc Location)
	Heartbeat(driverID, timestamp string)
	WaypointEvent(driverID, timestamp string, event map[string]any)
	RideEvent(driverID, rideID, timestamp string, event map[string]any)
	DriverDisconnected(driverID, timestamp string)
}

// Router decodes inbound frames, validates them against the schema for
// their type discriminator, mutates the registry, and writes the typed
// ack or error reply back on the originating connection. Validation errors
// never terminate a connection; only transport close or error does.
type Router struct {
	registry *Registry
	notify   *Broadcaster
	store    Persister
	log      *logger.Logger
}

func NewRouter(registry *Registry, notify *Broadcaster, store Persister, log *logger.Logger) *Router {
	return &Router{
		registry: registry,
		notify:   notify,
		store:    store,
		log:      log,
	}
}

// Handle processes exactly one inbound text frame.
func (rt *Router) Handle(ctx context.Context, conn session.Conn, payload []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		rt.reply(ctx, conn, errorReply("Invalid JSON format"))
		return
	}

	switch head.Type {
	case TypeDriverConnected:
		rt.handleDriverConnected(ctx, conn, payload)
	case TypeLocationUpdate:
		rt.handleLocationUpdate(ctx, conn, payload)
	case TypeHeartbeat:
		rt.handleHeartbeat(ctx, conn, payload)
	case TypeWaypointApproaching:
		rt.handleWaypointApproaching(ctx, conn, payload)
	case TypePickupArrival:
		rt.handlePickupArrival(ctx, conn, payload)
	case TypePassengerPickedUp:
		rt.handlePassengerPickedUp(ctx, conn, payload)
	case TypePassengerConnected:
		rt.handlePassengerConnected(ctx, conn, payload)
	case TypeDriverDisconnected:
		rt.handleDriverDisconnected(ctx, conn, payload)
	case TypePassengerDisconnected:
		rt.handlePassengerDisconnected(ctx, conn, payload)
	default:
		rt.log.Debug(ctx, "unknown_message_type", "Received frame with unknown or missing type", map[string]any{
			"type": head.Type,
		})
		rt.reply(ctx, conn, errorReply("Unknown message type"))
	}
}

// RejectUnsupported answers a non-text or non-JSON frame. Defined here so
// the transport layer shares the router's error document shape.
func (rt *Router) RejectUnsupported(ctx context.Context, conn session.Conn) {
	rt.reply(ctx, conn, errorReply("Unsupported message type"))
}

// ConnectionClosed runs the mandatory cleanup for a closed or errored
// transport. It is idempotent: once the reverse lookup misses, the entry
// was already removed and the call is a silent no-op.
func (rt *Router) ConnectionClosed(ctx context.Context, conn session.Conn) {
	id, role, ok := rt.registry.FindByConn(conn)
	if !ok {
		return
	}

	switch role {
	case session.RoleDriver:
		if _, err := rt.registry.RemoveDriver(id); err != nil {
			return
		}
		rt.log.Info(rt.log.WithDriverID(ctx, id), "driver_session_closed", "Driver removed after transport close", nil)
		rt.store.DriverDisconnected(id, nowTimestamp())
	case session.RolePassenger:
		driverID, err := rt.registry.RemovePassenger(id)
		if err != nil {
			return
		}
		rt.log.Info(ctx, "passenger_session_closed", "Passenger removed after transport close", map[string]any{
			"passenger_id": id,
		})
		rt.notify.PassengerDisconnected(ctx, id, driverID)
	}
}

// ---- per-type handlers ----

func (rt *Router) handleDriverConnected(ctx context.Context, conn session.Conn, payload []byte) {
	var msg driverConnectedMsg
	if !rt.decode(ctx, conn, TypeDriverConnected, payload, &msg, msg.validate) {
		return
	}
	ctx = rt.log.WithDriverID(ctx, msg.DriverID)

	if err := rt.registry.RegisterDriver(msg.DriverID, msg.RideID, msg.Timestamp, conn); err != nil {
		rt.reply(ctx, conn, errorReply("Driver already connected"))
		return
	}

	rt.log.Info(ctx, "driver_registered", "Driver connected and registered", map[string]any{
		"ride_id": msg.RideID,
	})

	rt.store.DriverConnected(msg.DriverID, msg.RideID, msg.Timestamp)

	rt.reply(ctx, conn, ackReply("driver_connected_ack", map[string]any{
		"driver_id": msg.DriverID,
		"ride_id":   msg.RideID,
	}))
}

func (rt *Router) handleLocationUpdate(ctx context.Context, conn session.Conn, payload []byte) {
	var msg locationUpdateMsg
	if !rt.decode(ctx, conn, TypeLocationUpdate, payload, &msg, msg.validate) {
		return
	}
	ctx = rt.log.WithDriverID(ctx, msg.DriverID)

	err := rt.registry.UpdateDriverLocation(msg.DriverID, *msg.Latitude, *msg.Longitude, msg.Timestamp)
	if errors.Is(err, session.ErrUnknownDriver) {
		rt.reply(ctx, conn, errorReply("Driver not registered"))
		return
	}

	loc := Location{
		Latitude:  *msg.Latitude,
		Longitude: *msg.Longitude,
		Speed:     msg.Speed,
		Heading:   msg.Heading,
		Accuracy:  msg.Accuracy,
		Timestamp: msg.Timestamp,
	}

	rt.notify.DriverLocation(ctx, msg.DriverID, loc)
	rt.store.LocationUpdated(msg.DriverID, msg.RideID, loc)

	rt.reply(ctx, conn, ackReply("location_received", nil))
}

func (rt *Router) handleHeartbeat(ctx context.Context, conn session.Conn, payload []byte) {
	var msg heartbeatMsg
	if !rt.decode(ctx, conn, TypeHeartbeat, payload, &msg, msg.validate) {
		return
	}
	ctx = rt.log.WithDriverID(ctx, msg.DriverID)

	if err := rt.registry.TouchHeartbeat(msg.DriverID, msg.Timestamp); err != nil {
		rt.reply(ctx, conn, errorReply("Driver not registered"))
		return
	}

	rt.store.Heartbeat(msg.DriverID, msg.Timestamp)
	rt.reply(ctx, conn, ackReply("heartbeat_ack", nil))
}

func (rt *Router) handleWaypointApproaching(ctx context.Context, conn session.Conn, payload []byte) {
	var msg waypointApproachingMsg
	if !rt.decode(ctx, conn, TypeWaypointApproaching, payload, &msg, msg.validate) {
		return
	}
	ctx = rt.log.WithDriverID(ctx, msg.DriverID)

	rt.store.WaypointEvent(msg.DriverID, msg.Timestamp, map[string]any{
		"event":                "waypoint_approaching",
		"ride_id":              msg.RideID,
		"waypoint_latitude":    *msg.WaypointLatitude,
		"waypoint_longitude":   *msg.WaypointLongitude,
		"distance_to_waypoint": *msg.DistanceToWaypoint,
		"timestamp":            msg.Timestamp,
	})

	rt.reply(ctx, conn, ackReply("waypoint_ack", nil))
}

func (rt *Router) handlePickupArrival(ctx context.Context, conn session.Conn, payload []byte) {
	var msg pickupArrivalMsg
	if !rt.decode(ctx, conn, TypePickupArrival, payload, &msg, msg.validate) {
		return
	}
	ctx = rt.log.WithDriverID(ctx, msg.DriverID)

	rt.store.RideEvent(msg.DriverID, msg.RideID, msg.Timestamp, map[string]any{
		"event":          "pickup_arrival",
		"passenger_name": msg.PassengerName,
		"timestamp":      msg.Timestamp,
	})

	rt.reply(ctx, conn, ackReply("pickup_arrival_ack", nil))
}

func (rt *Router) handlePassengerPickedUp(ctx context.Context, conn session.Conn, payload []byte) {
	var msg passengerPickedUpMsg
	if !rt.decode(ctx, conn, TypePassengerPickedUp, payload, &msg, msg.validate) {
		return
	}
	ctx = rt.log.WithDriverID(ctx, msg.DriverID)

	// Direct notice to the named passenger if connected; no offline queuing.
	rt.notify.PickupConfirmed(ctx, msg.PassengerID, msg.DriverID, msg.RideID)

	rt.store.RideEvent(msg.DriverID, msg.RideID, msg.Timestamp, map[string]any{
		"event":        "passenger_picked_up",
		"passenger_id": msg.PassengerID,
		"timestamp":    msg.Timestamp,
	})

	rt.reply(ctx, conn, ackReply("passenger_picked_up_ack", nil))
}

func (rt *Router) handlePassengerConnected(ctx context.Context, conn session.Conn, payload []byte) {
	var msg passengerConnectedMsg
	if !rt.decode(ctx, conn, TypePassengerConnected, payload, &msg, msg.validate) {
		return
	}

	if err := rt.registry.RegisterPassenger(msg.PassengerID, msg.DriverID, conn); err != nil {
		rt.reply(ctx, conn, errorReply("Passenger already connected"))
		return
	}

	rt.log.Info(ctx, "passenger_registered", "Passenger connected and tracking driver", map[string]any{
		"passenger_id": msg.PassengerID,
		"driver_id":    msg.DriverID,
	})

	rt.reply(ctx, conn, ackReply("passenger_connected_ack", map[string]any{
		"passenger_id": msg.PassengerID,
		"driver_id":    msg.DriverID,
	}))

	// Registration succeeded regardless of the driver's presence; the
	// follow-up pushes report the driver's availability separately.
	rt.notify.PassengerConnected(ctx, msg.PassengerID, msg.DriverID, conn)
}

func (rt *Router) handleDriverDisconnected(ctx context.Context, conn session.Conn, payload []byte) {
	var msg driverDisconnectedMsg
	if !rt.decode(ctx, conn, TypeDriverDisconnected, payload, &msg, msg.validate) {
		return
	}
	ctx = rt.log.WithDriverID(ctx, msg.DriverID)

	if _, err := rt.registry.RemoveDriver(msg.DriverID); err != nil {
		rt.reply(ctx, conn, errorReply("Driver not registered"))
		return
	}

	rt.log.Info(ctx, "driver_disconnected", "Driver removed from registry", map[string]any{
		"ride_id": msg.RideID,
	})

	rt.store.DriverDisconnected(msg.DriverID, msg.Timestamp)
	rt.reply(ctx, conn, ackReply("driver_disconnected_ack", map[string]any{
		"driver_id": msg.DriverID,
	}))
}

func (rt *Router) handlePassengerDisconnected(ctx context.Context, conn session.Conn, payload []byte) {
	var msg passengerDisconnectedMsg
	if !rt.decode(ctx, conn, TypePassengerDisconnected, payload, &msg, msg.validate) {
		return
	}

	driverID, err := rt.registry.RemovePassenger(msg.PassengerID)
	if err != nil {
		rt.reply(ctx, conn, errorReply("Passenger not connected"))
		return
	}

	rt.notify.PassengerDisconnected(ctx, msg.PassengerID, driverID)
	rt.reply(ctx, conn, ackReply("passenger_disconnected_ack", map[string]any{
		"passenger_id": msg.PassengerID,
	}))
}

// ---- shared plumbing ----

type validator func() error

// decode unmarshals the payload into the per-type schema and validates the
// required fields. On failure it sends the schema error reply and reports
// false so the handler stops.
func (rt *Router) decode(ctx context.Context, conn session.Conn, msgType string, payload []byte, dst any, validate validator) bool {
	if err := json.Unmarshal(payload, dst); err != nil {
		rt.log.Debug(ctx, "message_decode_failed", "Frame did not match the schema for its type", map[string]any{
			"type": msgType,
		})
		rt.reply(ctx, conn, errorReply("Invalid "+msgType+" message format"))
		return false
	}
	if err := validate(); err != nil {
		rt.log.Debug(ctx, "message_validation_failed", "Required field missing", map[string]any{
			"type":   msgType,
			"reason": err.Error(),
		})
		rt.reply(ctx, conn, errorReply("Invalid "+msgType+" message format"))
		return false
	}
	return true
}

// reply writes a document back on the originating connection, best effort.
func (rt *Router) reply(ctx context.Context, conn session.Conn, doc map[string]any) {
	if err := conn.WriteJSON(doc); err != nil {
		rt.log.Error(ctx, "reply_write_failed", "Failed to write reply to client", err, map[string]any{
			"type": doc["type"],
		})
	}
}

package hub

import (
	"fmt"
	"time"
)

// Message type discriminators accepted on the inbound side.
const (
	TypeDriverConnected       = "driver_connected"
	TypeLocationUpdate        = "location_update"
	TypeHeartbeat             = "heartbeat"
	TypeWaypointApproaching   = "waypoint_approaching"
	TypePickupArrival         = "pickup_arrival"
	TypePassengerPickedUp     = "passenger_picked_up"
	TypePassengerConnected    = "passenger_connected"
	TypeDriverDisconnected    = "driver_disconnected"
	TypePassengerDisconnected = "passenger_disconnected"
)

// Location is a driver position together with the optional motion fields
// that ride along on broadcasts but are never stored in the registry.
type Location struct {
	Latitude  float64
	Longitude float64
	Speed     *float64
	Heading   *float64
	Accuracy  *float64
	Timestamp string
}

// ---- inbound schemas, one struct per discriminator ----
//
// Required fields are validated after decoding; a decode failure or a
// missing field both produce the same "Invalid <type> message format" reply.

type driverConnectedMsg struct {
	DriverID  string `json:"driver_id"`
	RideID    string `json:"ride_id"`
	Timestamp string `json:"timestamp"`
}

func (m *driverConnectedMsg) validate() error {
	return requireStrings(map[string]string{
		"driver_id": m.DriverID,
		"ride_id":   m.RideID,
		"timestamp": m.Timestamp,
	})
}

type locationUpdateMsg struct {
	DriverID  string   `json:"driver_id"`
	RideID    string   `json:"ride_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp string   `json:"timestamp"`
}

func (m *locationUpdateMsg) validate() error {
	if err := requireStrings(map[string]string{
		"driver_id": m.DriverID,
		"ride_id":   m.RideID,
		"timestamp": m.Timestamp,
	}); err != nil {
		return err
	}
	if m.Latitude == nil || m.Longitude == nil {
		return fmt.Errorf("latitude and longitude are required")
	}
	return nil
}

type heartbeatMsg struct {
	DriverID  string `json:"driver_id"`
	Timestamp string `json:"timestamp"`
}

func (m *heartbeatMsg) validate() error {
	return requireStrings(map[string]string{
		"driver_id": m.DriverID,
		"timestamp": m.Timestamp,
	})
}

type waypointApproachingMsg struct {
	DriverID           string   `json:"driver_id"`
	RideID             string   `json:"ride_id"`
	WaypointLatitude   *float64 `json:"waypoint_latitude"`
	WaypointLongitude  *float64 `json:"waypoint_longitude"`
	DistanceToWaypoint *float64 `json:"distance_to_waypoint"`
	Timestamp          string   `json:"timestamp"`
}

func (m *waypointApproachingMsg) validate() error {
	if err := requireStrings(map[string]string{
		"driver_id": m.DriverID,
		"ride_id":   m.RideID,
		"timestamp": m.Timestamp,
	}); err != nil {
		return err
	}
	if m.WaypointLatitude == nil || m.WaypointLongitude == nil || m.DistanceToWaypoint == nil {
		return fmt.Errorf("waypoint coordinates and distance are required")
	}
	return nil
}

type pickupArrivalMsg struct {
	DriverID      string `json:"driver_id"`
	RideID        string `json:"ride_id"`
	PassengerName string `json:"passenger_name"`
	Timestamp     string `json:"timestamp"`
}

func (m *pickupArrivalMsg) validate() error {
	return requireStrings(map[string]string{
		"driver_id":      m.DriverID,
		"ride_id":        m.RideID,
		"passenger_name": m.PassengerName,
		"timestamp":      m.Timestamp,
	})
}

type passengerPickedUpMsg struct {
	DriverID    string `json:"driver_id"`
	RideID      string `json:"ride_id"`
	PassengerID string `json:"passenger_id"`
	Timestamp   string `json:"timestamp"`
}

func (m *passengerPickedUpMsg) validate() error {
	return requireStrings(map[string]string{
		"driver_id":    m.DriverID,
		"ride_id":      m.RideID,
		"passenger_id": m.PassengerID,
		"timestamp":    m.Timestamp,
	})
}

type passengerConnectedMsg struct {
	PassengerID string `json:"passenger_id"`
	DriverID    string `json:"driver_id"`
	Timestamp   string `json:"timestamp"`
}

func (m *passengerConnectedMsg) validate() error {
	return requireStrings(map[string]string{
		"passenger_id": m.PassengerID,
		"driver_id":    m.DriverID,
		"timestamp":    m.Timestamp,
	})
}

type driverDisconnectedMsg struct {
	DriverID  string `json:"driver_id"`
	RideID    string `json:"ride_id"`
	Timestamp string `json:"timestamp"`
}

func (m *driverDisconnectedMsg) validate() error {
	return requireStrings(map[string]string{
		"driver_id": m.DriverID,
		"ride_id":   m.RideID,
		"timestamp": m.Timestamp,
	})
}

type passengerDisconnectedMsg struct {
	PassengerID string `json:"passenger_id"`
	Timestamp   string `json:"timestamp"`
}

func (m *passengerDisconnectedMsg) validate() error {
	return requireStrings(map[string]string{
		"passenger_id": m.PassengerID,
		"timestamp":    m.Timestamp,
	})
}

func requireStrings(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

// ---- outbound documents ----
//
// Every outbound document carries type and timestamp; errors carry a
// human-readable message and leave the connection open.

func errorReply(message string) map[string]any {
	return map[string]any{
		"type":      "error",
		"message":   message,
		"timestamp": nowTimestamp(),
	}
}

func ackReply(msgType string, fields map[string]any) map[string]any {
	out := map[string]any{
		"type":      msgType,
		"status":    "success",
		"timestamp": nowTimestamp(),
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

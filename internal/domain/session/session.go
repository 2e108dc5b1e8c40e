package session

import "errors"

// Role identifies which namespace a connected identity belongs to.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

var (
	// ErrAlreadyConnected means the id already has a live session; a second
	// connect is rejected, never replaced.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrUnknownDriver means an operation referenced a driver id with no live session.
	ErrUnknownDriver = errors.New("driver not registered")

	// ErrNotFound is returned by removals and lookups that matched nothing.
	ErrNotFound = errors.New("session not found")
)

// Conn is the write side of a live client connection. The transport adapter
// owns framing and write locking; everything above it only pushes JSON
// documents and closes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// DriverState is the last-known state of a connected driver. Latitude and
// longitude stay nil until the first location update arrives.
type DriverState struct {
	RideID             string
	ConnectionTime     string
	LastLatitude       *float64
	LastLongitude      *float64
	LastLocationUpdate string
	LastSeen           string
}

// Clone returns a deep copy that shares nothing with the original, so
// snapshots never expose live mutable references.
func (s *DriverState) Clone() *DriverState {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastLatitude != nil {
		v := *s.LastLatitude
		c.LastLatitude = &v
	}
	if s.LastLongitude != nil {
		v := *s.LastLongitude
		c.LastLongitude = &v
	}
	return &c
}

// DriverSession pairs a driver identity with its live connection and state.
// Session and state are created together and removed together.
type DriverSession struct {
	DriverID string
	Conn     Conn
	State    *DriverState
}

// PassengerSession pairs a passenger identity with its live connection and
// the driver id it tracks. The driver reference is a non-owning lookup key:
// the driver may disconnect, or never have connected at all.
type PassengerSession struct {
	PassengerID string
	Conn        Conn
	DriverID    string
}

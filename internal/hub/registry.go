package hub

import (
	"sync"

	"location-hub/internal/domain/session"
)

// identity is the value side of the conn->id reverse index.
type identity struct {
	id   string
	role session.Role
}

// TrackingPassenger is a (passenger, connection) pair returned to the
// broadcaster so fan-out writes can happen outside the registry lock.
type TrackingPassenger struct {
	PassengerID string
	Conn        session.Conn
}

// Registry is the authoritative in-memory directory of connected drivers
// and passengers. All four structures (driver sessions, driver state,
// passenger sessions, reverse index) move together under one mutex so every
// operation is a single check-then-act critical section.
type Registry struct {
	mu         sync.Mutex
	drivers    map[string]*session.DriverSession
	passengers map[string]*session.PassengerSession
	conns      map[session.Conn]identity
}

func NewRegistry() *Registry {
	return &Registry{
		drivers:    make(map[string]*session.DriverSession),
		passengers: make(map[string]*session.PassengerSession),
		conns:      make(map[session.Conn]identity),
	}
}

// RegisterDriver creates a driver session together with a zeroed state
// record. A second connect for a live id is rejected, not replaced, and the
// original session is left untouched. A connection already bound to any
// identity is likewise rejected: a handle maps to exactly one identity, so
// the reverse index never silently loses a session.
func (r *Registry) RegisterDriver(id, rideID, timestamp string, conn session.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.drivers[id]; ok {
		return session.ErrAlreadyConnected
	}
	if _, ok := r.conns[conn]; ok {
		return session.ErrAlreadyConnected
	}

	r.drivers[id] = &session.DriverSession{
		DriverID: id,
		Conn:     conn,
		State: &session.DriverState{
			RideID:         rideID,
			ConnectionTime: timestamp,
		},
	}
	r.conns[conn] = identity{id: id, role: session.RoleDriver}

	return nil
}

// RegisterPassenger creates a passenger session tracking one driver. The
// tracked driver does not have to be connected; the reference may dangle.
// Like RegisterDriver, a connection that already owns an identity in either
// namespace is rejected.
func (r *Registry) RegisterPassenger(id, trackedDriverID string, conn session.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.passengers[id]; ok {
		return session.ErrAlreadyConnected
	}
	if _, ok := r.conns[conn]; ok {
		return session.ErrAlreadyConnected
	}

	r.passengers[id] = &session.PassengerSession{
		PassengerID: id,
		Conn:        conn,
		DriverID:    trackedDriverID,
	}
	r.conns[conn] = identity{id: id, role: session.RolePassenger}

	return nil
}

// UpdateDriverLocation mutates the driver state in place, last write wins.
// Updates carry no sequence numbers; a stale update arriving late overwrites
// newer data. An update for an unregistered id never creates a session.
func (r *Registry) UpdateDriverLocation(id string, lat, lon float64, timestamp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.drivers[id]
	if !ok {
		return session.ErrUnknownDriver
	}

	ds.State.LastLatitude = &lat
	ds.State.LastLongitude = &lon
	ds.State.LastLocationUpdate = timestamp

	return nil
}

// TouchHeartbeat records the driver's latest heartbeat timestamp.
func (r *Registry) TouchHeartbeat(id, timestamp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.drivers[id]
	if !ok {
		return session.ErrUnknownDriver
	}
	ds.State.LastSeen = timestamp

	return nil
}

// RemoveDriver deletes the driver session and its state together and returns
// a copy of the final state. A second removal for the same id reports
// ErrNotFound so callers can treat it as a silent no-op.
func (r *Registry) RemoveDriver(id string) (*session.DriverState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.drivers[id]
	if !ok {
		return nil, session.ErrNotFound
	}

	delete(r.drivers, id)
	delete(r.conns, ds.Conn)

	return ds.State.Clone(), nil
}

// RemovePassenger deletes the passenger session and returns the driver id it
// was tracking, for the disconnect notice to the driver.
func (r *Registry) RemovePassenger(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.passengers[id]
	if !ok {
		return "", session.ErrNotFound
	}

	delete(r.passengers, id)
	delete(r.conns, ps.Conn)

	return ps.DriverID, nil
}

// FindByConn resolves which identity owns a connection handle. The close and
// error cleanup paths identify sessions by handle, not by domain id.
func (r *Registry) FindByConn(conn session.Conn) (string, session.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, ok := r.conns[conn]
	if !ok {
		return "", "", false
	}
	return ident.id, ident.role, true
}

// Driver returns the connection and a state copy for a live driver. The
// state pointer is nil only if the session somehow exists without state.
func (r *Registry) Driver(id string) (session.Conn, *session.DriverState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.drivers[id]
	if !ok {
		return nil, nil, false
	}
	return ds.Conn, ds.State.Clone(), true
}

// Passenger returns the connection and tracked driver id for a live passenger.
func (r *Registry) Passenger(id string) (session.Conn, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.passengers[id]
	if !ok {
		return nil, "", false
	}
	return ps.Conn, ps.DriverID, true
}

// PassengersTracking lists the passengers currently tracking a driver.
func (r *Registry) PassengersTracking(driverID string) []TrackingPassenger {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TrackingPassenger
	for _, ps := range r.passengers {
		if ps.DriverID == driverID {
			out = append(out, TrackingPassenger{PassengerID: ps.PassengerID, Conn: ps.Conn})
		}
	}
	return out
}

// Snapshot returns deep copies of all driver states keyed by driver id,
// for the status surface. Callers never see live references.
func (r *Registry) Snapshot() map[string]session.DriverState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]session.DriverState, len(r.drivers))
	for id, ds := range r.drivers {
		out[id] = *ds.State.Clone()
	}
	return out
}

// DriverCount reports how many drivers are currently connected.
func (r *Registry) DriverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drivers)
}

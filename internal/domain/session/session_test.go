package session

import "testing"

func TestDriverStateClone(t *testing.T) {
	lat, lon := 10.5, 20.5
	orig := &DriverState{
		RideID:             "r1",
		ConnectionTime:     "t0",
		LastLatitude:       &lat,
		LastLongitude:      &lon,
		LastLocationUpdate: "t1",
		LastSeen:           "t2",
	}

	clone := orig.Clone()
	if clone == orig {
		t.Fatal("clone returned the same pointer")
	}
	if *clone.LastLatitude != 10.5 || *clone.LastLongitude != 20.5 || clone.RideID != "r1" {
		t.Errorf("clone = %+v", clone)
	}

	*clone.LastLatitude = 99
	clone.RideID = "other"
	if *orig.LastLatitude != 10.5 || orig.RideID != "r1" {
		t.Error("mutating the clone changed the original")
	}
}

func TestDriverStateCloneNil(t *testing.T) {
	var s *DriverState
	if s.Clone() != nil {
		t.Error("nil clone should stay nil")
	}

	// coordinates stay nil until the first update
	c := (&DriverState{RideID: "r1"}).Clone()
	if c.LastLatitude != nil || c.LastLongitude != nil {
		t.Errorf("clone fabricated coordinates: %+v", c)
	}
}

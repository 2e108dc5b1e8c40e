package websocket

import (
	"encoding/json"
	"net/http"
)

// driverSummary is one row of the diagnostics status payload.
type driverSummary struct {
	DriverID       string `json:"driver_id"`
	RideID         string `json:"ride_id"`
	ConnectionTime string `json:"connection_time"`
}

// handleStatus reports connected driver counts and per-driver summaries.
// Read-only: it works on registry snapshots, never on live state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()

	drivers := make([]driverSummary, 0, len(snapshot))
	for id, state := range snapshot {
		drivers = append(drivers, driverSummary{
			DriverID:       id,
			RideID:         state.RideID,
			ConnectionTime: state.ConnectionTime,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"connected_drivers": len(drivers),
		"drivers":           drivers,
	}); err != nil {
		s.logger.Error(r.Context(), "status_encode_failed", "Failed to encode status response", err, nil)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

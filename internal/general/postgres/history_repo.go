package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRecord is one archived driver position.
type HistoryRecord struct {
	ID             string
	DriverID       string
	RideID         string
	Latitude       float64
	Longitude      float64
	SpeedKMH       *float64
	HeadingDegrees *float64
	AccuracyMeters *float64
	RecordedAt     string
}

// LocationHistoryRepo persists location history rows using pgx and plain
// SQL. The archive is append-only telemetry next to the realtime path.
type LocationHistoryRepo struct {
	pool *pgxpool.Pool
}

func NewLocationHistoryRepo(pool *pgxpool.Pool) *LocationHistoryRepo {
	return &LocationHistoryRepo{pool: pool}
}

// Archive inserts a single location_history record.
func (repo *LocationHistoryRepo) Archive(ctx context.Context, rec *HistoryRecord) error {
	if rec.DriverID == "" {
		return fmt.Errorf("location history: driver_id is required")
	}
	if rec.Latitude < -90 || rec.Latitude > 90 || rec.Longitude < -180 || rec.Longitude > 180 {
		return fmt.Errorf("location history: coordinates out of range")
	}

	_, err := repo.pool.Exec(ctx, `
		INSERT INTO location_history (
			id, driver_id, ride_id, latitude, longitude,
			speed_kmh, heading_degrees, accuracy_meters, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID,
		rec.DriverID,
		rec.RideID,
		rec.Latitude,
		rec.Longitude,
		rec.SpeedKMH,
		rec.HeadingDegrees,
		rec.AccuracyMeters,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("archive location for %s: %w", rec.DriverID, err)
	}

	return nil
}

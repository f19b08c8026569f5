package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
)

// AppendPowerReading inserts one live power snapshot
func (r *Repository) AppendPowerReading(ctx context.Context, reading *db.PowerReading) error {
	if reading.ID == uuid.Nil {
		reading.ID = uuid.New()
	}

	byProject, err := json.Marshal(nonNil(reading.ByProject))
	if err != nil {
		return fmt.Errorf("failed to encode project breakdown: %w", err)
	}
	byMeter, err := json.Marshal(nonNil(reading.ByMeter))
	if err != nil {
		return fmt.Errorf("failed to encode meter breakdown: %w", err)
	}

	query := `
		INSERT INTO power_readings (id, recorded_at, total_power, active_meter_count, by_project, by_meter)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.pool.Exec(ctx, query,
		reading.ID,
		reading.RecordedAt,
		reading.TotalPower,
		reading.ActiveMeterCount,
		byProject,
		byMeter,
	)
	if err != nil {
		return fmt.Errorf("failed to insert power reading: %w", err)
	}
	return nil
}

// DeletePowerReadingsBefore removes readings older than cutoff
func (r *Repository) DeletePowerReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM power_readings WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune power readings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPowerReadings returns readings recorded in [from, to) oldest first
func (r *Repository) ListPowerReadings(ctx context.Context, from, to time.Time) ([]db.PowerReading, error) {
	query := `
		SELECT id, recorded_at, total_power, active_meter_count, by_project, by_meter
		FROM power_readings
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY recorded_at
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query power readings: %w", err)
	}
	defer rows.Close()

	var readings []db.PowerReading
	for rows.Next() {
		var (
			reading            db.PowerReading
			byProject, byMeter []byte
		)
		if err := rows.Scan(&reading.ID, &reading.RecordedAt, &reading.TotalPower, &reading.ActiveMeterCount, &byProject, &byMeter); err != nil {
			return nil, fmt.Errorf("failed to scan power reading: %w", err)
		}
		if err := json.Unmarshal(byProject, &reading.ByProject); err != nil {
			return nil, fmt.Errorf("failed to decode project breakdown: %w", err)
		}
		if err := json.Unmarshal(byMeter, &reading.ByMeter); err != nil {
			return nil, fmt.Errorf("failed to decode meter breakdown: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

func nonNil(items []db.PowerBreakdown) []db.PowerBreakdown {
	if items == nil {
		return []db.PowerBreakdown{}
	}
	return items
}

package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/pump-controller/internal/model"
)

// GetSchedule returns the persisted schedule state.
func GetSchedule(db *sql.DB) (model.ScheduleState, error) {
	var st model.ScheduleState
	var nextFire sql.NullString
	err := db.QueryRow(`SELECT active, interval_minutes, duration_seconds, next_fire FROM schedule WHERE id = 1`).
		Scan(&st.Active, &st.IntervalMinutes, &st.DurationSeconds, &nextFire)
	if err != nil {
		return model.ScheduleState{}, fmt.Errorf("failed to get schedule: %w", err)
	}
	if nextFire.Valid && nextFire.String != "" {
		t, err := time.Parse(time.RFC3339, nextFire.String)
		if err != nil {
			return st, fmt.Errorf("failed to parse next_fire %q: %w", nextFire.String, err)
		}
		st.NextFire = t
	}
	return st, nil
}

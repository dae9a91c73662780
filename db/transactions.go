package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/pump-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func SaveSchedule(db *sql.DB, st model.ScheduleState) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := SaveScheduleWithTx(tx, st); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func SaveScheduleWithTx(tx *sql.Tx, st model.ScheduleState) error {
	var nextFire interface{}
	if !st.NextFire.IsZero() {
		nextFire = st.NextFire.UTC().Format(time.RFC3339)
	}
	_, err := tx.Exec(`UPDATE schedule SET active = ?, interval_minutes = ?, duration_seconds = ?, next_fire = ?, updated_at = ? WHERE id = 1`,
		st.Active, st.IntervalMinutes, st.DurationSeconds, nextFire, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// ClearSchedule marks the schedule inactive and forgets the next fire time
// while keeping the last interval and duration.
func ClearSchedule(db *sql.DB) error {
	_, err := db.Exec(`UPDATE schedule SET active = FALSE, next_fire = NULL, updated_at = ? WHERE id = 1`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	return nil
}

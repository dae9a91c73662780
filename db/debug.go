package db

import (
	"fmt"
	"io"
	"time"
)

func ShowScheduleCLI(dbPath string, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	st, err := GetSchedule(conn)
	if err != nil {
		return err
	}
	status := "inactive"
	if st.Active {
		status = "active"
	}
	fmt.Fprintf(w, "schedule:  %s\n", status)
	fmt.Fprintf(w, "interval:  %d min\n", st.IntervalMinutes)
	fmt.Fprintf(w, "duration:  %d s\n", st.DurationSeconds)
	if !st.NextFire.IsZero() {
		fmt.Fprintf(w, "next fire: %s\n", st.NextFire.Local().Format(time.RFC1123))
	}
	return nil
}

func ClearScheduleCLI(dbPath string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return ClearSchedule(conn)
}

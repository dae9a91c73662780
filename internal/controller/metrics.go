package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/datadog"
)

const DefaultMetricsInterval = 10 * time.Second

// overridable for tests
var gauge = datadog.Gauge

// ReportMetrics publishes pump and run gauges every interval until ctx is
// done.
func (s *Session) ReportMetrics(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	log.Debug().Dur("interval", interval).Msg("Starting metrics reporter")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.reportOnce()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) reportOnce() {
	st := s.Status()
	for _, p := range st.Pumps {
		tag := "pump:" + string(p.Role)
		gauge("pump.running", boolGauge(p.Running), tag)
		gauge("pump.connected", boolGauge(p.Connected), tag)
		gauge("pump.rpm", float64(p.RPM), tag)
	}
	gauge("pump.operation.active", boolGauge(st.Run != nil))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

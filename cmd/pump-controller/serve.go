package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/pump-controller/db"
	"github.com/thatsimonsguy/pump-controller/internal/api"
	"github.com/thatsimonsguy/pump-controller/internal/controller"
	"github.com/thatsimonsguy/pump-controller/internal/datadog"
	"github.com/thatsimonsguy/pump-controller/system/shutdown"
)

var allowOffline bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller with its HTTP API and schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer datadog.Close()

		dbConn, err := db.Open(cfg.Runtime.DBPath)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		dispenser, retractor := controller.NewPumps(cfg)
		session := controller.NewSession(cfg, dispenser, retractor, dbConn)

		if err := session.Connect(); err != nil {
			if !allowOffline {
				shutdown.ShutdownWithError(err, "Failed to connect pumps", retractor, dispenser)
			}
			log.Warn().Err(err).Msg("Pumps offline, operations will fail until restart")
		}

		if err := session.ResumeSchedule(); err != nil {
			log.Error().Err(err).Msg("Failed to resume persisted schedule")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// an API failure cancels gctx and stops the reporter too
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return api.NewServer(session, cfg).Run(gctx, cfg.Runtime.APIPort)
		})
		g.Go(func() error {
			return session.ReportMetrics(gctx, controller.DefaultMetricsInterval)
		})
		err = g.Wait()

		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopGrace()+5*time.Second)
		defer cancel()
		session.Shutdown(shutdownCtx)
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&allowOffline, "allow-offline", false, "keep serving when the pumps cannot be reached")
}

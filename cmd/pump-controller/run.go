package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/pump-controller/internal/controller"
	"github.com/thatsimonsguy/pump-controller/internal/datadog"
	"github.com/thatsimonsguy/pump-controller/internal/events"
	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/operation"
	"github.com/thatsimonsguy/pump-controller/system/shutdown"
)

var runDuration float64

var runCmd = &cobra.Command{
	Use:       "run <fill|dispense|drain>",
	Short:     "Run a single operation and exit",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"fill", "dispense", "drain"},
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := operation.Parse(args[0])
		if err != nil {
			return err
		}
		if runDuration < 0 {
			return fmt.Errorf("--duration must not be negative")
		}

		cfg, err := setup()
		if err != nil {
			return err
		}
		defer datadog.Close()

		dispenser, retractor := controller.NewPumps(cfg)
		session := controller.NewSession(cfg, dispenser, retractor, nil)
		if err := session.Connect(); err != nil {
			shutdown.SafeStop(retractor, dispenser)
			return err
		}
		defer session.Shutdown(context.Background())

		sub := session.Hub().Subscribe()
		defer sub.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		override := time.Duration(runDuration * float64(time.Second))
		if _, err := session.StartOperation(op, override); err != nil {
			return err
		}

		sig := ctx.Done()
		for {
			select {
			case <-sig:
				log.Warn().Msg("Interrupt received, stopping operation")
				if err := session.RequestStop(); err != nil {
					log.Warn().Err(err).Msg("Stop request failed")
				}
				sig = nil
			case e, ok := <-sub.C:
				if !ok {
					return fmt.Errorf("event stream closed before %s completed", op)
				}
				switch e.Type {
				case events.TypeProgress:
					p := e.Data.(events.ProgressData)
					log.Info().Int("elapsed", p.Elapsed).Int("total", p.Total).Msg("Progress")
				case events.TypeCompleted:
					c := e.Data.(model.Completion)
					msg := controller.CompletionMessage(c)
					log.Info().Str("outcome", string(c.Outcome)).Msg(msg)
					if !c.Success {
						return errors.New(msg)
					}
					return nil
				}
			}
		}
	},
}

func init() {
	runCmd.Flags().Float64Var(&runDuration, "duration", 0, "override the dispenser phase duration in seconds")
}

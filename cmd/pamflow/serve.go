package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/savegress/pamflow/internal/api"
	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/metrics"
	"github.com/savegress/pamflow/internal/validation"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the MLLP intake listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openStores(ctx); err != nil {
				return err
			}
			a.connectReplay(cfg.MLLP.Address)

			var intake *hl7v2.Server
			if cfg.MLLP.ListenAddress != "" {
				intake = hl7v2.NewServer(&hl7v2.ServerConfig{
					Address: cfg.MLLP.ListenAddress,
					Handler: a.intakeHandler(),
					Logger:  logger,
				})
				if err := intake.Start(ctx); err != nil {
					return err
				}
				logger.Info("MLLP intake listening", "address", intake.Addr())
			}

			server := api.NewServer(cfg, a.dependencies())
			httpServer := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      server.Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("pamflow API listening", "port", cfg.Server.Port)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("HTTP server error: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down pamflow")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "error", err)
			}
			if intake != nil {
				if err := intake.Stop(); err != nil {
					logger.Error("MLLP intake shutdown error", "error", err)
				}
			}

			logger.Info("pamflow stopped")
			return nil
		},
	}

	cmd.Flags().Int("port", 0, "HTTP port (overrides server.port)")
	return cmd
}

// intakeHandler acknowledges inbound messages the way a receiving system
// would: AE for invalid structure or an illegal transition, AR when venue
// state cannot be read or written, AA otherwise. Accepted ADT events
// advance the venue state.
func (a *app) intakeHandler() hl7v2.MessageHandler {
	return func(ctx context.Context, message string) string {
		h := hl7v2.ParseHeader(message)

		var v validation.Validator = a.pam
		if h.MessageType == "MFN" {
			v = a.mfn
		}
		result := v.Validate(message, validation.ModeMessage)
		a.metrics.ValidationResult(v.Name(), result.Valid, len(result.Errors), len(result.Warnings))
		if !result.Valid {
			return hl7v2.BuildAck(message, "AE", result.Errors[0].Message)
		}
		if h.MessageType != "ADT" {
			return hl7v2.BuildAck(message, "AA", "")
		}

		venue := a.engine.VenueOf(message)
		trigger := string(h.TriggerEvent)

		previous, err := a.venues.LastTrigger(ctx, venue)
		if err != nil {
			a.logger.Error("failed to read venue state", "venue", venue, "error", err)
			return hl7v2.BuildAck(message, "AR", "venue state unavailable")
		}
		if err := a.machine.Check(previous, trigger, false); err != nil {
			a.metrics.Transition(metrics.TransitionRejected)
			return hl7v2.BuildAck(message, "AE", err.Error())
		}
		a.metrics.Transition(metrics.TransitionAllowed)

		if err := a.venues.SetLastTrigger(ctx, venue, a.machine.Next(previous, trigger)); err != nil {
			a.logger.Error("failed to write venue state", "venue", venue, "error", err)
			return hl7v2.BuildAck(message, "AR", "venue state unavailable")
		}
		return hl7v2.BuildAck(message, "AA", "")
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/petrijr/disturb"
	"github.com/petrijr/disturb/internal/natsserver"
	"github.com/petrijr/disturb/pkg/metrics"
)

func workflowFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "workflow",
		Aliases:  []string{"w"},
		Usage:    "Workflow definition file (.json, .yaml, .yml or .toml)",
		Required: true,
		Sources:  cli.EnvVars("DISTURB_WORKFLOW"),
	}
}

func idFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "Workflow process id",
		Required: required,
	}
}

// openBundle loads the definition named by --workflow and opens its adapters.
func openBundle(ctx context.Context, cmd *cli.Command, registry *disturb.Registry, opts ...disturb.Option) (*disturb.Bundle, *slog.Logger, error) {
	logger, err := loggerFrom(cmd)
	if err != nil {
		return nil, nil, err
	}
	def, err := disturb.LoadDefinition(cmd.String("workflow"))
	if err != nil {
		return nil, nil, err
	}
	opts = append([]disturb.Option{disturb.WithLogger(logger)}, opts...)
	b, err := disturb.NewBundle(ctx, def, registry, opts...)
	if err != nil {
		return nil, nil, err
	}
	return b, logger.With(slog.String("workflow", def.Name)), nil
}

func newManagerCommand() *cli.Command {
	return &cli.Command{
		Name:  "manager",
		Usage: "Run the manager loop of a workflow",
		Flags: []cli.Flag{
			workflowFlag(),
			&cli.StringFlag{
				Name:    "http",
				Usage:   "Serve the status API and /metrics on this address",
				Sources: cli.EnvVars("DISTURB_HTTP_ADDR"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat",
				Value:   30 * time.Second,
				Usage:   "Monitoring heartbeat interval",
				Sources: cli.EnvVars("DISTURB_HEARTBEAT"),
			},
		},
		Action: runManager,
	}
}

func runManager(ctx context.Context, cmd *cli.Command) error {
	logger, err := loggerFrom(cmd)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promObs, err := metrics.NewPrometheusObserver(reg)
	if err != nil {
		return err
	}
	observer := disturb.NewCompositeObserver(disturb.NewLoggingObserver(logger), promObs)

	b, logger, err := openBundle(ctx, cmd, nil, disturb.WithObserver(observer), disturb.WithHeartbeat(cmd.Duration("heartbeat")))
	if err != nil {
		return err
	}
	defer b.Close()

	if addr := cmd.String("http"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: b.HTTPHandler(reg), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("http api listening", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http api stopped", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return b.Manager().Run(ctx)
}

func newStepCommand() *cli.Command {
	return &cli.Command{
		Name:  "step",
		Usage: "Run a step worker loop with the built-in echo executor",
		Flags: []cli.Flag{
			workflowFlag(),
			&cli.StringFlag{
				Name:     "step",
				Aliases:  []string{"s"},
				Usage:    "Step code to serve",
				Required: true,
				Sources:  cli.EnvVars("DISTURB_STEP"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat",
				Value:   30 * time.Second,
				Usage:   "Monitoring heartbeat interval",
				Sources: cli.EnvVars("DISTURB_HEARTBEAT"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			step := cmd.String("step")
			registry := disturb.NewRegistry()
			if err := registry.Register(step, disturb.EchoStep()); err != nil {
				return err
			}
			b, _, err := openBundle(ctx, cmd, registry, disturb.WithHeartbeat(cmd.Duration("heartbeat")))
			if err != nil {
				return err
			}
			defer b.Close()

			w, err := b.StepWorker(step)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
}

func newStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Ask the manager to start a workflow",
		Flags: []cli.Flag{
			workflowFlag(),
			idFlag(false),
			&cli.StringFlag{
				Name:  "payload",
				Usage: "Initial payload as a JSON object",
				Value: "{}",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			payload, err := parsePayload(cmd.String("payload"))
			if err != nil {
				return err
			}
			id := cmd.String("id")
			if id == "" {
				id = uuid.NewString()
			}
			b, _, err := openBundle(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.StartWorkflow(ctx, id, payload); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, id)
			return err
		},
	}
}

func parsePayload(s string) (disturb.Payload, error) {
	var p disturb.Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if p == nil {
		p = disturb.Payload{}
	}
	return p, nil
}

type statusOutput struct {
	ID                string         `json:"id"`
	Status            disturb.Status `json:"status"`
	CurrentStepPos    int            `json:"currentStepPos"`
	CurrentStepStatus disturb.Status `json:"currentStepStatus,omitempty"`
	StartedAt         string         `json:"startedAt,omitempty"`
	FinishedAt        string         `json:"finishedAt,omitempty"`
	Info              string         `json:"info,omitempty"`
}

func newStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the status of a workflow",
		Flags: []cli.Flag{workflowFlag(), idFlag(true)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			b, _, err := openBundle(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer b.Close()

			id := cmd.String("id")
			wc, err := b.Engine.Context(ctx, id)
			if err != nil {
				return err
			}
			out := statusOutput{
				ID:             wc.ID,
				Status:         wc.Status,
				CurrentStepPos: wc.CurrentStepPos,
				StartedAt:      wc.StartedAt,
				FinishedAt:     wc.FinishedAt,
				Info:           wc.Info,
			}
			if group, ok := wc.CurrentGroup(); ok {
				out.CurrentStepStatus = group.Status()
			}
			enc := json.NewEncoder(cmd.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the context of a workflow",
		Flags: []cli.Flag{workflowFlag(), idFlag(true)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			b, logger, err := openBundle(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Engine.Delete(ctx, cmd.String("id")); err != nil {
				return err
			}
			logger.Info("workflow context deleted", slog.String("workflow_process_id", cmd.String("id")))
			return nil
		},
	}
}

func newNATSServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "nats-server",
		Usage: "Run an embedded NATS server with JetStream for local deployments",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   4222,
				Usage:   "Client port",
				Sources: cli.EnvVars("DISTURB_NATS_PORT"),
			},
			&cli.StringFlag{
				Name:    "store",
				Value:   "./data/nats",
				Usage:   "JetStream storage directory",
				Sources: cli.EnvVars("DISTURB_NATS_STORE"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, err := loggerFrom(cmd)
			if err != nil {
				return err
			}
			srv, err := natsserver.New(natsserver.Options{
				Port:     int(cmd.Int("port")),
				StoreDir: cmd.String("store"),
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return err
			}
			logger.Info("nats server ready", slog.String("url", srv.ClientURL()))
			<-ctx.Done()
			srv.Stop()
			return nil
		},
	}
}

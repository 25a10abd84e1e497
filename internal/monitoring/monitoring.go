// Package monitoring records the lifecycle of manager and step worker
// processes in the monitoring namespace of the configured store.
package monitoring

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/petrijr/disturb/internal/persistence"
	"github.com/petrijr/disturb/pkg/api"
)

// Worker statuses stored in monitoring documents.
const (
	StatusStarted = "STARTED"
	StatusExited  = "EXITED"
)

// WorkerInfo is the monitoring document of one worker process.
type WorkerInfo struct {
	Status      string `json:"status"`
	RunningOn   string `json:"runningOn,omitempty"`
	PID         int    `json:"pid,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	HeartBeatAt string `json:"heartBeatAt,omitempty"`
	ExitedAt    string `json:"exitedAt,omitempty"`
	ExitCode    *int   `json:"exitCode,omitempty"`
}

// Service writes worker lifecycle documents keyed by worker code.
type Service struct {
	store    *persistence.Store
	hostname string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHostname overrides the host name reported as runningOn.
func WithHostname(h string) Option {
	return func(s *Service) {
		if h != "" {
			s.hostname = h
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service over store. The store is expected to be opened with
// persistence.UsageMonitoring.
func New(store *persistence.Store, opts ...Option) *Service {
	host, _ := os.Hostname()
	s := &Service{
		store:    store,
		hostname: host,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Hostname returns the host name reported by the service.
func (s *Service) Hostname() string { return s.hostname }

// WorkerStarted registers worker code as started with the given process id.
func (s *Service) WorkerStarted(ctx context.Context, code string, pid int) error {
	at := api.Timestamp(s.now())
	s.logger.DebugContext(ctx, "worker started", slog.String("worker", code), slog.Int("pid", pid))
	return s.store.Save(ctx, code, map[string]any{
		"status":      StatusStarted,
		"runningOn":   s.hostname,
		"pid":         pid,
		"startedAt":   at,
		"heartBeatAt": at,
	})
}

// Beat refreshes the heartbeat of worker code.
func (s *Service) Beat(ctx context.Context, code string) error {
	return s.store.Save(ctx, code, map[string]any{
		"heartBeatAt": api.Timestamp(s.now()),
	})
}

// WorkerExited marks worker code as exited with exitCode.
func (s *Service) WorkerExited(ctx context.Context, code string, exitCode int) error {
	s.logger.DebugContext(ctx, "worker exited", slog.String("worker", code), slog.Int("exit_code", exitCode))
	return s.store.Save(ctx, code, map[string]any{
		"status":    StatusExited,
		"runningOn": s.hostname,
		"exitedAt":  api.Timestamp(s.now()),
		"exitCode":  exitCode,
	})
}

// WorkerInfo returns the monitoring document of worker code.
func (s *Service) WorkerInfo(ctx context.Context, code string) (*WorkerInfo, error) {
	var info WorkerInfo
	if _, err := s.store.GetInto(ctx, code, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteWorkerInfo removes the monitoring document of worker code.
func (s *Service) DeleteWorkerInfo(ctx context.Context, code string) error {
	return s.store.Delete(ctx, code)
}

// Heartbeat calls Beat for code every interval until ctx is done. Failures
// are logged and do not stop the loop.
func (s *Service) Heartbeat(ctx context.Context, code string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Beat(ctx, code); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "heartbeat failed", slog.String("worker", code), slog.Any("error", err))
			}
		}
	}
}

// Package natsserver runs an embedded NATS server with JetStream enabled, for
// local deployments of the broker and store adapters and for tests.
package natsserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Options configures the embedded server.
type Options struct {
	// Host to bind; defaults to 127.0.0.1.
	Host string

	// Port to listen on. -1 picks a random free port.
	Port int

	// StoreDir is where JetStream keeps its data.
	StoreDir string

	// ServerName is an optional name for the instance.
	ServerName string

	// JetStreamMaxMemory defaults to 256MB.
	JetStreamMaxMemory int64

	// JetStreamMaxStore defaults to 1GB.
	JetStreamMaxStore int64

	Logger *slog.Logger
}

// Server wraps a nats-server instance.
type Server struct {
	ns        *server.Server
	startOnce sync.Once
}

// New creates a server without starting it.
func New(opts Options) (*Server, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.JetStreamMaxMemory == 0 {
		opts.JetStreamMaxMemory = 256 * 1024 * 1024
	}
	if opts.JetStreamMaxStore == 0 {
		opts.JetStreamMaxStore = 1024 * 1024 * 1024
	}
	if opts.ServerName == "" {
		opts.ServerName = "disturb_embedded"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ns, err := server.NewServer(&server.Options{
		ServerName:         opts.ServerName,
		Host:               opts.Host,
		Port:               opts.Port,
		JetStream:          true,
		StoreDir:           opts.StoreDir,
		JetStreamMaxMemory: opts.JetStreamMaxMemory,
		JetStreamMaxStore:  opts.JetStreamMaxStore,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	ns.SetLogger(&slogAdapter{log: opts.Logger.With(slog.String("component", "nats"))}, false, false)
	return &Server{ns: ns}, nil
}

// Start starts the server and waits until it accepts connections.
func (s *Server) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		go s.ns.Start()
	})
	deadline := 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	if !s.ns.ReadyForConnections(deadline) {
		return fmt.Errorf("nats server not ready within %s", deadline)
	}
	return nil
}

// ClientURL returns the URL clients should connect to.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// Stop shuts the server down and waits for it to exit.
func (s *Server) Stop() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}

type slogAdapter struct {
	log *slog.Logger
}

func (a *slogAdapter) Noticef(format string, v ...any) { a.log.Info(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Warnf(format string, v ...any)   { a.log.Warn(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Fatalf(format string, v ...any)  { a.log.Error(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Errorf(format string, v ...any)  { a.log.Error(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Debugf(format string, v ...any)  { a.log.Debug(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Tracef(format string, v ...any)  { a.log.Debug(fmt.Sprintf(format, v...)) }

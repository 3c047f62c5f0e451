package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/softwarewrighter/ui-test/pkg/config"
	"github.com/softwarewrighter/ui-test/pkg/process"
	"github.com/softwarewrighter/ui-test/pkg/protocol"
)

// DefaultShutdownGrace is how long the server gets to exit after its stdin
// is closed before it is killed.
const DefaultShutdownGrace = 2 * time.Second

// Session is a connected automation server.
type Session struct {
	Client *protocol.Client
	close  func(ctx context.Context) error
}

// NewSession wraps a ready client. close, if set, tears down whatever the
// client is connected to.
func NewSession(c *protocol.Client, close func(ctx context.Context) error) *Session {
	return &Session{Client: c, close: close}
}

// Close closes the client and then the server behind it.
func (s *Session) Close(ctx context.Context) error {
	err := s.Client.Close(ctx)
	if s.close != nil {
		err = errors.Join(err, s.close(ctx))
	}
	return err
}

// Connector starts an automation server and connects to it.
type Connector interface {
	Connect(ctx context.Context) (*Session, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (*Session, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context) (*Session, error) { return f(ctx) }

// ProcessConnector launches the server as a child process and speaks to it
// over its stdin and stdout.
type ProcessConnector struct {
	Spec    process.Spec
	Logger  *log.Logger
	Version string
	Grace   time.Duration
}

// NewProcessConnector builds the connector for cfg's server settings.
func NewProcessConnector(cfg *config.Config, logger *log.Logger, version string) *ProcessConnector {
	return &ProcessConnector{
		Spec: process.Spec{
			Command: cfg.Server.Command,
			Args:    cfg.ServerArgs(),
			Env:     cfg.Server.Env,
		},
		Logger:  logger,
		Version: version,
		Grace:   DefaultShutdownGrace,
	}
}

// Connect launches the server and performs the handshake. On failure the
// process is already shut down.
func (p *ProcessConnector) Connect(ctx context.Context) (*Session, error) {
	logger := p.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	grace := p.Grace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	h, err := process.Launch(ctx, p.Spec, logger)
	if err != nil {
		return nil, err
	}
	c, err := protocol.Dial(ctx, h,
		protocol.WithLogger(logger),
		protocol.WithClientInfo("ui-test", p.Version),
	)
	if err != nil {
		h.Shutdown(grace)
		if exitErr := h.ExitErr(); exitErr != nil {
			return nil, fmt.Errorf("handshake with %s: %w (server exited: %v)", p.Spec.Command, err, exitErr)
		}
		return nil, fmt.Errorf("handshake with %s: %w", p.Spec.Command, err)
	}
	logger.Debug("connected", "server", c.ServerName(), "pid", h.Pid())
	return NewSession(c, func(context.Context) error {
		return h.Shutdown(grace)
	}), nil
}

package cli

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/devsupport/config"
	"github.com/vinayprograms/devsupport/heartbeat"
	"github.com/vinayprograms/devsupport/logging"
	"github.com/vinayprograms/devsupport/mcp"
	"github.com/vinayprograms/devsupport/ratelimit"
	"github.com/vinayprograms/devsupport/shutdown"
	"github.com/vinayprograms/devsupport/telemetry"
	"github.com/vinayprograms/devsupport/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Transport string
	Listen    string

	// ready, when set, receives the websocket listen address.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server on stdio (the default) or on a WebSocket listener.

Over stdio the server exits when its input closes. Both transports stop on
SIGINT or SIGTERM after in-flight tool calls finish.

Example:
  devsupport serve
  devsupport serve --transport websocket --listen 127.0.0.1:8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Transport, "transport", "", "stdio or websocket (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "websocket listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Transport != "" {
		cfg.Server.Transport = opts.Transport
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger, err := serverLogger(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open log", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup_failed", map[string]interface{}{"error": err.Error()})
		return WrapExitError(ExitCommandError, "start server", err)
	}

	server := mcp.NewServer(mcp.Implementation{Name: cfg.Server.Name, Version: opts.Version}, app.Registry, logger)
	if cfg.Server.RateLimit > 0 {
		server.SetLimiter(ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateWindow.Std()))
	}

	coord := shutdown.NewCoordinator(shutdown.Config{ContinueOnError: true, Logger: logger})

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    "devsupport",
			ServiceVersion: opts.Version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
		})
		if err != nil {
			app.Close()
			return WrapExitError(ExitCommandError, "init telemetry", err)
		}
		server.SetTracer(telemetry.NewTracer("devsupport/mcp", cfg.Telemetry.Debug))
		coord.RegisterFunc("telemetry", shutdown.PhaseStores, provider.Shutdown)
	}
	stop := coord.HandleSignals()
	defer stop()

	sessions := &sessionGroup{}
	coord.RegisterFunc("mcp", shutdown.PhaseServer, func(sctx context.Context) error {
		cancel()
		return sessions.wait(sctx)
	})
	app.RegisterShutdown(coord)

	if app.Events != nil {
		sender, err := heartbeat.NewSender(heartbeat.Config{
			Events:    app.Events,
			ServerID:  uuid.New().String(),
			Transport: cfg.Server.Transport,
			InFlight:  server.InFlight,
		})
		if err == nil && sender.Start(ctx) == nil {
			coord.Register("heartbeat", shutdown.PhaseTransport, shutdown.CloserFunc(sender.Stop))
		}
	}

	switch cfg.Server.Transport {
	case config.TransportWebSocket:
		ln, err := net.Listen("tcp", cfg.Server.Listen)
		if err != nil {
			coord.ShutdownWithTimeout(0)
			return WrapExitError(ExitCommandError, "listen", err)
		}
		httpServer := &http.Server{Handler: websocketHandler(ctx, server, sessions, logger)}
		coord.RegisterFunc("listener", shutdown.PhaseTransport, httpServer.Shutdown)

		logger.ServerStart(cfg.Server.Name, "websocket "+ln.Addr().String())
		if opts.ready != nil {
			opts.ready <- ln.Addr().String()
		}
		go func() {
			if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("listener_failed", map[string]interface{}{"error": err.Error()})
				coord.ShutdownWithTimeout(0)
			}
		}()

	default:
		t := transport.NewStdioTransport(cmd.InOrStdin(), cmd.OutOrStdout(), transport.DefaultConfig())
		logger.ServerStart(cfg.Server.Name, "stdio")
		sessions.run(func() {
			if err := server.Serve(ctx, t); err != nil {
				logger.Warn("transport_error", map[string]interface{}{"error": err.Error()})
			}
			// Input closed: the client is gone.
			go coord.ShutdownWithTimeout(0)
		})
	}

	// Cancelling the command's context stops the server like a signal.
	go func() {
		select {
		case <-cmd.Context().Done():
			coord.ShutdownWithTimeout(0)
		case <-coord.Done():
		}
	}()

	<-coord.Done()
	if res := coord.Result(); res != nil && res.Failed() {
		return WrapExitError(ExitCommandError, "shutdown", res.Err)
	}
	return nil
}

// serverLogger opens the configured server log.
func serverLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.OpenFile(cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Close()
		return nil, err
	}
	logger.SetLevel(level)
	return logger, nil
}

// websocketHandler serves one MCP session per upgraded connection.
func websocketHandler(ctx context.Context, server *mcp.Server, sessions *sessionGroup, logger *logging.Logger) http.Handler {
	upgrader := transport.NewWebSocketUpgrader()
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade_failed", map[string]interface{}{"error": err.Error()})
			return
		}
		t := transport.NewWebSocketTransport(conn, transport.DefaultWebSocketConfig())
		ok := sessions.run(func() {
			logger.Info("session_start", map[string]interface{}{"remote": r.RemoteAddr})
			server.Serve(ctx, t)
			logger.Info("session_end", map[string]interface{}{"remote": r.RemoteAddr})
		})
		if !ok {
			conn.Close()
		}
	})
	return mux
}

// sessionGroup tracks running MCP sessions. Once wait is called no new
// session starts.
type sessionGroup struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (g *sessionGroup) run(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

func (g *sessionGroup) wait(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

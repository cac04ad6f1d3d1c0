package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/logging"
	"github.com/vinayprograms/devsupport/ratelimit"
	"github.com/vinayprograms/devsupport/telemetry"
	"github.com/vinayprograms/devsupport/tools"
	"github.com/vinayprograms/devsupport/transport"
)

// Server exposes a tool registry over MCP.
type Server struct {
	info     Implementation
	registry *tools.Registry
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	limiter  *ratelimit.Limiter
	inFlight atomic.Int64
}

// NewServer creates a server. A nil logger discards output.
func NewServer(info Implementation, registry *tools.Registry, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		info:     info,
		registry: registry,
		logger:   logger.WithComponent("mcp"),
		tracer:   telemetry.NewTracer("devsupport/mcp", false),
	}
}

// InFlight returns the number of requests being handled.
func (s *Server) InFlight() int64 {
	return s.inFlight.Load()
}

// SetLimiter limits calls per tool. Calls over the limit fail with
// RESOURCE_BUSY.
func (s *Server) SetLimiter(l *ratelimit.Limiter) {
	s.limiter = l
}

// SetTracer replaces the tracer used for tool-call spans.
func (s *Server) SetTracer(t *telemetry.Tracer) {
	if t != nil {
		s.tracer = t
	}
}

// Serve handles messages from t until the peer disconnects or ctx is
// cancelled. Each request runs on its own goroutine. In-flight requests
// finish and their responses are flushed before Serve closes t and returns.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	// The transport outlives ctx so that late responses can still be written.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	runErr := make(chan error, 1)
	go func() { runErr <- t.Run(runCtx) }()

	reqCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	reason := "peer disconnected"
loop:
	for {
		select {
		case <-ctx.Done():
			reason = "shutdown"
			break loop
		case msg, ok := <-t.Recv():
			if !ok {
				break loop
			}
			s.dispatch(reqCtx, t, msg, &wg)
		}
	}

	wg.Wait()
	t.Close()
	err := <-runErr

	s.logger.ServerStop(reason)
	return err
}

func (s *Server) dispatch(ctx context.Context, t transport.Transport, msg *transport.InboundMessage, wg *sync.WaitGroup) {
	switch {
	case msg.Request != nil:
		req := msg.Request
		wg.Add(1)
		s.inFlight.Add(1)
		go func() {
			defer wg.Done()
			defer s.inFlight.Add(-1)
			out := s.Handle(ctx, req)
			if err := t.Send(out); err != nil {
				s.logger.Warn("send_failed", map[string]interface{}{
					"method": req.Method,
					"error":  err.Error(),
				})
			}
		}()
	case msg.Notification != nil:
		s.logger.Debug("notification", map[string]interface{}{"method": msg.Notification.Method})
	case msg.Response != nil:
		s.logger.Debug("unexpected_response", map[string]interface{}{"id": msg.Response.ID})
	}
}

// Handle produces the response for a single request.
func (s *Server) Handle(ctx context.Context, req *transport.Request) *transport.OutboundMessage {
	switch req.Method {
	case MethodInitialize:
		return s.result(req.ID, s.initialize(req.Params))
	case MethodPing:
		return s.result(req.ID, struct{}{})
	case MethodToolsList:
		return s.result(req.ID, s.listTools())
	case MethodToolsCall:
		return s.callTool(ctx, req)
	default:
		return transport.NewError(req.ID, transport.MethodNotFound, "Method not found", req.Method)
	}
}

func (s *Server) initialize(params json.RawMessage) *InitializeResult {
	var p InitializeParams
	if len(params) > 0 {
		json.Unmarshal(params, &p)
	}
	s.logger.Info("client_initialized", map[string]interface{}{
		"client":   p.ClientInfo.Name,
		"version":  p.ClientInfo.Version,
		"protocol": p.ProtocolVersion,
	})
	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      s.info,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
	}
}

func (s *Server) listTools() *ToolsListResult {
	defs := s.registry.Definitions()
	list := make([]Tool, 0, len(defs))
	for _, d := range defs {
		list = append(list, Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return &ToolsListResult{Tools: list}
}

func (s *Server) callTool(ctx context.Context, req *transport.Request) *transport.OutboundMessage {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return transport.NewError(req.ID, transport.InvalidParams, "Invalid params", err.Error())
	}
	if !s.registry.Has(params.Name) {
		return transport.NewError(req.ID, transport.InvalidParams, "Unknown tool", params.Name)
	}
	args, err := tools.ParseArgs(params.Arguments)
	if err != nil {
		return transport.NewError(req.ID, transport.InvalidParams, "Invalid params", errors.As(err).Message())
	}

	traceID := uuid.New().String()
	logger := s.logger.WithTraceID(traceID)
	logger.ToolCall(params.Name)
	start := time.Now()

	ctx, span := s.tracer.StartToolSpan(telemetry.ExtractContext(ctx, params.Meta), params.Name)
	out, err := s.execute(ctx, params.Name, args)
	logger.ToolResult(params.Name, time.Since(start), err)
	s.tracer.EndToolSpan(span, telemetry.ToolSpanOptions{
		TraceID: traceID,
		Args:    args,
		Result:  out.Text(),
		IsError: out.IsError,
	}, err)

	return s.result(req.ID, out)
}

func (s *Server) execute(ctx context.Context, name string, args tools.Args) (*ToolCallResult, error) {
	if s.limiter != nil && !s.limiter.Allow(name) {
		err := errors.ResourceBusy("rate limit exceeded for tool "+name, errors.WithMetadata(errors.MetaTool, name))
		return errorResult(err), err
	}

	result, err := s.registry.Execute(ctx, name, args)
	if err != nil {
		return errorResult(err), err
	}

	data, err := json.Marshal(result)
	if err != nil {
		err = errors.Wrap(err, "encode tool result")
		return errorResult(err), err
	}
	return &ToolCallResult{
		Content:           []Content{{Type: "text", Text: string(data)}},
		StructuredContent: data,
	}, nil
}

// errorResult reports a tool failure in-band with its error code.
func errorResult(err error) *ToolCallResult {
	coded := errors.As(err)
	if coded == nil {
		coded = errors.Wrap(err, err.Error())
	}
	data, mErr := json.Marshal(coded)
	if mErr != nil {
		data = []byte(`{"code":"INTERNAL","message":"unencodable error"}`)
	}
	return &ToolCallResult{
		Content:           []Content{{Type: "text", Text: string(data)}},
		StructuredContent: data,
		IsError:           true,
	}
}

func (s *Server) result(id interface{}, v interface{}) *transport.OutboundMessage {
	out, err := transport.NewResult(id, v)
	if err != nil {
		return transport.NewError(id, transport.InternalError, "Internal error", err.Error())
	}
	return out
}

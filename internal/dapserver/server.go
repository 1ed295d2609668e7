package dapserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crollins/webdap/internal/config"
	apperrors "github.com/crollins/webdap/internal/errors"
	"github.com/crollins/webdap/internal/launcher"
	"github.com/crollins/webdap/internal/proxy"
	"github.com/crollins/webdap/internal/session"
	"github.com/crollins/webdap/pkg/types"
)

// Server is the DAP adapter for one host connection. A connection carries
// exactly one logical debug session.
type Server struct {
	cfg  *config.Config
	log  *zap.Logger
	t    *Transport
	host *hostBridge

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	orch *session.Orchestrator

	terminatedOnce sync.Once
}

// NewServer creates a DAP server over the given streams (stdio in
// production, pipes in tests).
func NewServer(cfg *config.Config, log *zap.Logger, r io.Reader, w io.Writer) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	t := NewTransport(r, w)
	return &Server{
		cfg:  cfg,
		log:  log,
		t:    t,
		host: newHostBridge(t, log),
	}
}

// Serve runs the message loop until the stream closes or ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	s.ctx = sctx
	s.cancel = cancel
	defer cancel()

	for {
		msg, err := s.t.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || sctx.Err() != nil {
				return nil
			}
			return err
		}

		switch m := msg.(type) {
		case *dap.InitializeRequest:
			s.handleInitialize(m)
		case *dap.LaunchRequest:
			// Launch blocks on the readiness poll and on the
			// startDebugging ack, which arrives through this loop,
			// so it must not run inline.
			go s.handleLaunch(sctx, m)
		case *dap.AttachRequest:
			go s.handleAttach(sctx, m)
		case *dap.ConfigurationDoneRequest:
			s.ack(&m.Request, &dap.ConfigurationDoneResponse{})
		case *dap.ThreadsRequest:
			s.handleThreads(m)
		case *dap.DisconnectRequest:
			go s.handleDisconnect(m)
		case *dap.TerminateRequest:
			go s.handleTerminate(m)
		case *dap.StartDebuggingResponse:
			s.host.resolveStartDebugging(m)
		default:
			if req, ok := msg.(dap.RequestMessage); ok {
				r := req.GetRequest()
				s.sendErrorResponse(r, 9000, "unsupported request",
					"the '"+r.Command+"' request is not supported by this adapter")
			}
		}
	}
}

// wireArguments is the flat launch/attach configuration accepted on the
// wire, mapped onto the orchestrator's argument records.
type wireArguments struct {
	Program string            `json:"program,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Host              string `json:"host,omitempty"`
	Port              int    `json:"port,omitempty"`
	BrowserInspectURI string `json:"browserInspectUri,omitempty"`
	Platform          string `json:"platform,omitempty"`
	Browser           string `json:"browser,omitempty"`
	WebRoot           string `json:"webRoot,omitempty"`
}

func (w wireArguments) attach() types.AttachArguments {
	return types.AttachArguments{
		Host:              w.Host,
		Port:              w.Port,
		BrowserInspectURI: w.BrowserInspectURI,
		Platform:          types.Platform(w.Platform),
		Browser:           types.Browser(w.Browser),
		WebRoot:           w.WebRoot,
	}
}

func (s *Server) handleInitialize(req *dap.InitializeRequest) {
	resp := &dap.InitializeResponse{
		Response: s.newResponse(&req.Request),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsTerminateRequest:         true,
			SupportTerminateDebuggee:         true,
		},
	}
	if err := s.t.Send(resp); err != nil {
		s.log.Warn("failed to send initialize response", zap.Error(err))
		return
	}
	_ = s.t.Send(&dap.InitializedEvent{Event: s.newEvent("initialized")})
}

func (s *Server) handleLaunch(ctx context.Context, req *dap.LaunchRequest) {
	var wire wireArguments
	if err := json.Unmarshal(req.Arguments, &wire); err != nil {
		s.sendErrorResponse(&req.Request, 1001, "invalid launch arguments", err.Error())
		return
	}

	orch := s.orchestrator()
	err := orch.Launch(ctx, types.LaunchArguments{
		Program: wire.Program,
		Args:    wire.Args,
		Cwd:     wire.Cwd,
		Env:     wire.Env,
		Attach:  wire.attach(),
	})
	if err != nil {
		s.sendErrorResponse(&req.Request, 1002, "launch failed", apperrors.FromError(err).Error())
		s.sendTerminated()
		return
	}

	s.ack(&req.Request, &dap.LaunchResponse{})
}

func (s *Server) handleAttach(ctx context.Context, req *dap.AttachRequest) {
	var wire wireArguments
	if err := json.Unmarshal(req.Arguments, &wire); err != nil {
		s.sendErrorResponse(&req.Request, 1003, "invalid attach arguments", err.Error())
		return
	}

	orch := s.orchestrator()
	if err := orch.Attach(ctx, wire.attach()); err != nil {
		s.sendErrorResponse(&req.Request, 1004, "attach failed", apperrors.FromError(err).Error())
		s.sendTerminated()
		return
	}

	s.ack(&req.Request, &dap.AttachResponse{})
}

func (s *Server) handleThreads(req *dap.ThreadsRequest) {
	// Execution state lives in the child session; this adapter reports a
	// single placeholder thread so generic clients stay happy.
	resp := &dap.ThreadsResponse{
		Response: s.newResponse(&req.Request),
		Body: dap.ThreadsResponseBody{
			Threads: []dap.Thread{{Id: 1, Name: "application"}},
		},
	}
	_ = s.t.Send(resp)
}

func (s *Server) handleDisconnect(req *dap.DisconnectRequest) {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()

	if orch != nil {
		_ = orch.Disconnect(context.Background())
	}
	s.ack(&req.Request, &dap.DisconnectResponse{})
	s.cancel()
}

func (s *Server) handleTerminate(req *dap.TerminateRequest) {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()

	if orch != nil {
		// When a child session is linked, route the termination through
		// the host broadcast so the registry decides between reconnect
		// and teardown; otherwise end the session directly.
		if link := orch.Registry().Link(); link != nil {
			s.host.PublishTerminated(session.SessionEvent{
				HostID: link.HostID,
				Type:   link.Type,
				Config: types.ChildSessionConfig{
					Type:      link.Type,
					SessionID: link.LogicalID,
				},
			})
		} else {
			orch.Terminate()
		}
	}
	s.ack(&req.Request, &dap.TerminateResponse{})
}

// orchestrator lazily builds the single logical session behind this
// connection, wiring the concrete proxy, launcher, and verifier.
func (s *Server) orchestrator() *session.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orch != nil {
		return s.orch
	}

	id := uuid.New().String()
	prx := proxy.NewServer(s.cfg.Proxy.ListenHost, s.cfg.Proxy.ListenPort, s.log)
	app := launcher.New(s.cfg.Launcher, s.log)

	s.orch = session.New(s.ctx, id, session.Options{
		Config:   s.cfg,
		Log:      s.log,
		Proxy:    prx,
		Launcher: app,
		Host:     s.host,
		Handler:  newCDPTrafficHandler(s.log),
		Verify: func() error {
			return launcher.VerifyDependencies(s.cfg.Launcher.Dependencies)
		},
		OnTerminated: s.onSessionTerminated,
	})
	return s.orch
}

// onSessionTerminated is the orchestrator's terminal callback: one
// user-visible message for a failure, then exactly one terminated event.
func (s *Server) onSessionTerminated(err error) {
	if err != nil {
		_ = s.t.Send(&dap.OutputEvent{
			Event: s.newEvent("output"),
			Body: dap.OutputEventBody{
				Category: "stderr",
				Output:   apperrors.FromError(err).Error() + "\n",
			},
		})
	}
	s.sendTerminated()
}

func (s *Server) sendTerminated() {
	s.terminatedOnce.Do(func() {
		_ = s.t.Send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
	})
}

// ack sends a success response for req. resp must be a zero-value response
// message of the right concrete type.
func (s *Server) ack(req *dap.Request, resp dap.ResponseMessage) {
	r := resp.GetResponse()
	*r = s.newResponse(req)
	if err := s.t.Send(resp); err != nil {
		s.log.Warn("failed to send response", zap.String("command", req.Command), zap.Error(err))
	}
}

func (s *Server) newResponse(req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.t.NextSeq(), Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func (s *Server) newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.t.NextSeq(), Type: "event"},
		Event:           name,
	}
}

func (s *Server) sendErrorResponse(req *dap.Request, id int, summary, detail string) {
	resp := &dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: s.t.NextSeq(), Type: "response"},
			Command:         req.Command,
			RequestSeq:      req.Seq,
			Success:         false,
			Message:         summary,
		},
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{
				Id:       id,
				Format:   detail,
				ShowUser: true,
			},
		},
	}
	if err := s.t.Send(resp); err != nil {
		s.log.Warn("failed to send error response", zap.String("command", req.Command), zap.Error(err))
	}
}

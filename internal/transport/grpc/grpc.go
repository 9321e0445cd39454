// Package grpc implements the gRPC transport for espremote.
//
// The Remote service carries JSON-encoded messages (content-subtype "json")
// so clients need no generated stubs. The standard grpc.health.v1 service is
// registered alongside it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rkmjld2/mahajan-remote2/internal/message"
	"github.com/rkmjld2/mahajan-remote2/internal/session"
)

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	server *grpc.Server
	health *health.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and serves requests through sessions.
func (t *Transport) Listen(ctx context.Context, sessions *session.Manager) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)
	return t.Serve(ctx, lis, sessions)
}

// Serve serves on lis until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context, lis net.Listener, sessions *session.Manager) error {
	t.server = grpc.NewServer(grpc.UnaryInterceptor(logUnary))
	t.health = health.NewServer()

	t.server.RegisterService(&ServiceDesc, &remoteServer{sessions: sessions})
	healthpb.RegisterHealthServer(t.server, t.health)
	t.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	t.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		_ = t.Close()
	}()

	if err := t.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	if t.health != nil {
		t.health.Shutdown()
	}
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}

// remoteServer adapts sessions to the Remote service.
type remoteServer struct {
	sessions *session.Manager
}

func (r *remoteServer) session(id string) *session.Session {
	s, _ := r.sessions.GetOrCreate(id)
	return s
}

func (r *remoteServer) Health(ctx context.Context, req *SessionRequest) (*InteractionReply, error) {
	s := r.session(req.SessionID)
	return interactionReply(s, s.Health(ctx)), nil
}

func (r *remoteServer) Press(ctx context.Context, req *PressRequest) (*InteractionReply, error) {
	action, ok := message.ParseAction(req.Action)
	if !ok || action.IsNone() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown action %q", req.Action)
	}
	s := r.session(req.SessionID)
	return interactionReply(s, s.Press(ctx, action)), nil
}

func (r *remoteServer) Command(ctx context.Context, req *CommandRequest) (*InteractionReply, error) {
	s := r.session(req.SessionID)
	return interactionReply(s, s.Command(ctx, req.Text)), nil
}

func (r *remoteServer) Voice(ctx context.Context, req *VoiceRequest) (*InteractionReply, error) {
	s := r.session(req.SessionID)
	return interactionReply(s, s.Voice(ctx, req.Audio)), nil
}

func (r *remoteServer) Status(ctx context.Context, req *SessionRequest) (*StatusReply, error) {
	s := r.session(req.SessionID)
	return &StatusReply{SessionID: s.ID(), Status: s.Status()}, nil
}

func interactionReply(s *session.Session, it message.Interaction) *InteractionReply {
	return &InteractionReply{SessionID: s.ID(), Interaction: it}
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	slog.Debug("grpc request",
		"method", info.FullMethod,
		"code", status.Code(err),
		"duration", time.Since(start))
	return resp, err
}

package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rkmjld2/mahajan-remote2/internal/message"
)

// ServiceName is the fully qualified Remote service name.
const ServiceName = "espremote.v1.Remote"

// SessionRequest addresses a session. An empty or unknown id opens a new
// session whose id is returned in the reply.
type SessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// PressRequest dispatches a direct action (D1_ON, d2_off, ...).
type PressRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action"`
}

// CommandRequest carries typed text.
type CommandRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// VoiceRequest carries a WAV file or raw PCM16 mono 16 kHz capture.
type VoiceRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Audio     []byte `json:"audio"`
}

// InteractionReply is the outcome of one trigger.
type InteractionReply struct {
	SessionID   string              `json:"session_id"`
	Interaction message.Interaction `json:"interaction"`
}

// StatusReply is the last result of a session.
type StatusReply struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// RemoteServer is the server API for the Remote service.
type RemoteServer interface {
	Health(context.Context, *SessionRequest) (*InteractionReply, error)
	Press(context.Context, *PressRequest) (*InteractionReply, error)
	Command(context.Context, *CommandRequest) (*InteractionReply, error)
	Voice(context.Context, *VoiceRequest) (*InteractionReply, error)
	Status(context.Context, *SessionRequest) (*StatusReply, error)
}

// ServiceDesc describes the Remote service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RemoteServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Health", RemoteServer.Health),
		unary("Press", RemoteServer.Press),
		unary("Command", RemoteServer.Command),
		unary("Voice", RemoteServer.Voice),
		unary("Status", RemoteServer.Status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "espremote/v1/remote",
}

func unary[Req, Resp any](name string, call func(RemoteServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RemoteServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RemoteServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls the Remote service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a Client on cc. Calls are sent with the JSON codec.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Health(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*InteractionReply, error) {
	out := new(InteractionReply)
	return out, c.invoke(ctx, "Health", in, out, opts)
}

func (c *Client) Press(ctx context.Context, in *PressRequest, opts ...grpc.CallOption) (*InteractionReply, error) {
	out := new(InteractionReply)
	return out, c.invoke(ctx, "Press", in, out, opts)
}

func (c *Client) Command(ctx context.Context, in *CommandRequest, opts ...grpc.CallOption) (*InteractionReply, error) {
	out := new(InteractionReply)
	return out, c.invoke(ctx, "Command", in, out, opts)
}

func (c *Client) Voice(ctx context.Context, in *VoiceRequest, opts ...grpc.CallOption) (*InteractionReply, error) {
	out := new(InteractionReply)
	return out, c.invoke(ctx, "Voice", in, out, opts)
}

func (c *Client) Status(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*StatusReply, error) {
	out := new(StatusReply)
	return out, c.invoke(ctx, "Status", in, out, opts)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodec{}.Name())}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// jsonCodec marshals messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/emmett/companion/internal/turn"
)

const serviceName = "companion.v1.Conversation"

// ConversationServer is the session control service. Requests and replies
// are protobuf well-known types so no generated code is needed.
type ConversationServer interface {
	// StartSession accepts an optional profile {name, voice, prompt,
	// attributes} and replies {session_id}
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndSession(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterConversationServer registers srv with s
func RegisterConversationServer(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&conversationDesc, srv)
}

var conversationDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StartSession",
			Handler: unary("StartSession", func(srv ConversationServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.StartSession(ctx, in)
			}),
		},
		{
			MethodName: "EndSession",
			Handler: unary("EndSession", func(srv ConversationServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.EndSession(ctx, in)
			}),
		},
		{
			MethodName: "GetStatus",
			Handler: unary("GetStatus", func(srv ConversationServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.GetStatus(ctx, in)
			}),
		},
	},
	Metadata: "companion/v1/conversation.proto",
}

type message interface {
	*structpb.Struct | *emptypb.Empty
}

func unary[T message](method string, call func(ConversationServer, context.Context, T) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newMessage[T]()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ConversationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ConversationServer), ctx, req.(T))
		})
	}
}

func newMessage[T message]() T {
	var zero T
	switch any(zero).(type) {
	case *structpb.Struct:
		return any(&structpb.Struct{}).(T)
	default:
		return any(&emptypb.Empty{}).(T)
	}
}

// ConversationService implements ConversationServer over a Controller
type ConversationService struct {
	ctrl Controller
}

// NewConversationService creates the service
func NewConversationService(ctrl Controller) *ConversationService {
	return &ConversationService{ctrl: ctrl}
}

func (s *ConversationService) StartSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	profile, err := profileFrom(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := s.ctrl.StartSession(ctx, profile)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"session_id": id})
}

func (s *ConversationService) EndSession(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.ctrl.EndSession()
	return &emptypb.Empty{}, nil
}

func (s *ConversationService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.ctrl.Status()
	fields := map[string]any{
		"state":      st.State.String(),
		"session_id": st.SessionID,
		"profile":    st.Profile,
		"speaking":   st.Speaking,
		"capturing":  st.Capturing,
		"turns":      st.Turns,
		"barge_ins":  st.BargeIns,
		"fallbacks":  st.Fallbacks,
	}
	if st.LastError != nil {
		fields["last_error"] = st.LastError.Error()
	}
	return structpb.NewStruct(fields)
}

// profileFrom returns nil for an empty request so the configured profile is used
func profileFrom(req *structpb.Struct) (*turn.Profile, error) {
	fields := req.GetFields()
	if len(fields) == 0 {
		return nil, nil
	}

	voice, err := turn.ParseVoice(fields["voice"].GetStringValue())
	if err != nil {
		return nil, err
	}
	p := &turn.Profile{
		Name:   fields["name"].GetStringValue(),
		Voice:  voice,
		Prompt: fields["prompt"].GetStringValue(),
	}
	if attrs := fields["attributes"].GetStructValue(); attrs != nil {
		p.Attributes = make(map[string]string, len(attrs.GetFields()))
		for k, v := range attrs.GetFields() {
			p.Attributes[k] = v.GetStringValue()
		}
	}
	return p, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, turn.ErrCaptureUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, turn.ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ConversationClient calls a remote ConversationServer
type ConversationClient struct {
	cc grpc.ClientConnInterface
}

// NewConversationClient wraps a connection
func NewConversationClient(cc grpc.ClientConnInterface) *ConversationClient {
	return &ConversationClient{cc: cc}
}

func (c *ConversationClient) StartSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/StartSession", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ConversationClient) EndSession(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/EndSession", &emptypb.Empty{}, &emptypb.Empty{}, opts...)
}

func (c *ConversationClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetStatus", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

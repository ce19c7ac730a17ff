// Package api exposes the client over gRPC on the account's unix socket.
//
// The service is described by hand rather than generated: every request and
// reply is a google.protobuf.Struct carrying the JSON shape of the Go types
// in this package.
package api

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/matheus3301/nearby/internal/app"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/outbox"
	"github.com/matheus3301/nearby/internal/signal"
	"github.com/matheus3301/nearby/internal/social"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nearby.v1.Nearby"

// FullMethod returns the gRPC method path of name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// NearbyServer is the server side of the service.
type NearbyServer interface {
	GetStatus(context.Context, *Empty) (*StatusReply, error)
	ListNearby(context.Context, *Empty) (*NearbyReply, error)
	SetOnline(context.Context, *SetOnlineRequest) (*StatusReply, error)
	Drain(context.Context, *Empty) (*DrainReply, error)
	ListQueue(context.Context, *Empty) (*QueueReply, error)
	SendMessage(context.Context, *SendMessageRequest) (*MessageReply, error)
	ResendMessage(context.Context, *IDRequest) (*MessageReply, error)
	ListMessages(context.Context, *ListMessagesRequest) (*MessagesReply, error)
	MarkRead(context.Context, *IDRequest) (*MessageReply, error)
	RequestConnection(context.Context, *RequestConnectionRequest) (*ConnectionReply, error)
	RespondConnection(context.Context, *RespondRequest) (*ConnectionReply, error)
	ListConnections(context.Context, *Empty) (*ConnectionsReply, error)
	ProposeMeetup(context.Context, *ProposeMeetupRequest) (*MeetupReply, error)
	RespondMeetup(context.Context, *RespondRequest) (*MeetupReply, error)
	CompleteMeetup(context.Context, *IDRequest) (*MeetupReply, error)
	ListMeetups(context.Context, *Empty) (*MeetupsReply, error)
	StartScan(context.Context, *Empty) (*StatusReply, error)
	StopScan(context.Context, *Empty) (*StatusReply, error)
	ResetPermission(context.Context, *PermissionRequest) (*StatusReply, error)
	GetProfile(context.Context, *Empty) (*ProfileReply, error)
	UpdateProfile(context.Context, *UpdateProfileRequest) (*ProfileReply, error)
	WatchEvents(*WatchRequest, grpc.ServerStream) error
}

// ServiceDesc registers a NearbyServer with a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NearbyServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", NearbyServer.GetStatus),
		unary("ListNearby", NearbyServer.ListNearby),
		unary("SetOnline", NearbyServer.SetOnline),
		unary("Drain", NearbyServer.Drain),
		unary("ListQueue", NearbyServer.ListQueue),
		unary("SendMessage", NearbyServer.SendMessage),
		unary("ResendMessage", NearbyServer.ResendMessage),
		unary("ListMessages", NearbyServer.ListMessages),
		unary("MarkRead", NearbyServer.MarkRead),
		unary("RequestConnection", NearbyServer.RequestConnection),
		unary("RespondConnection", NearbyServer.RespondConnection),
		unary("ListConnections", NearbyServer.ListConnections),
		unary("ProposeMeetup", NearbyServer.ProposeMeetup),
		unary("RespondMeetup", NearbyServer.RespondMeetup),
		unary("CompleteMeetup", NearbyServer.CompleteMeetup),
		unary("ListMeetups", NearbyServer.ListMeetups),
		unary("StartScan", NearbyServer.StartScan),
		unary("StopScan", NearbyServer.StopScan),
		unary("ResetPermission", NearbyServer.ResetPermission),
		unary("GetProfile", NearbyServer.GetProfile),
		unary("UpdateProfile", NearbyServer.UpdateProfile),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				var req WatchRequest
				if err := Decode(in, &req); err != nil {
					return grpcstatus.Errorf(codes.InvalidArgument, "decode WatchEvents: %v", err)
				}
				return srv.(NearbyServer).WatchEvents(&req, stream)
			},
		},
	},
	Metadata: "nearby/v1/nearby.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv NearbyServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, fn func(NearbyServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, raw any) (any, error) {
				req := new(Req)
				if err := Decode(raw.(*structpb.Struct), req); err != nil {
					return nil, grpcstatus.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
				}
				resp, err := fn(srv.(NearbyServer), ctx, req)
				if err != nil {
					return nil, toStatus(err)
				}
				out, err := Encode(resp)
				if err != nil {
					return nil, grpcstatus.Errorf(codes.Internal, "encode %s: %v", name, err)
				}
				return out, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, call)
		},
	}
}

// Service implements NearbyServer on top of the application.
type Service struct {
	app    *app.App
	logger *zap.Logger
}

// NewService creates the service.
func NewService(a *app.App, logger *zap.Logger) *Service {
	return &Service{app: a, logger: logger}
}

func (s *Service) GetStatus(context.Context, *Empty) (*StatusReply, error) {
	return statusReply(s.app.Status()), nil
}

func (s *Service) ListNearby(context.Context, *Empty) (*NearbyReply, error) {
	return &NearbyReply{Users: s.app.Nearby()}, nil
}

func (s *Service) SetOnline(_ context.Context, req *SetOnlineRequest) (*StatusReply, error) {
	s.app.SetOnline(req.Online)
	return statusReply(s.app.Status()), nil
}

func (s *Service) Drain(ctx context.Context, _ *Empty) (*DrainReply, error) {
	return drainReply(s.app.Drain(ctx)), nil
}

func (s *Service) ListQueue(context.Context, *Empty) (*QueueReply, error) {
	actions := s.app.Queue().Actions()
	out := make([]QueuedAction, len(actions))
	for i, a := range actions {
		out[i] = QueuedAction{
			ID:         a.ID,
			Entity:     a.EntityType,
			Operation:  a.Operation,
			RetryCount: a.RetryCount,
			EnqueuedAt: a.EnqueuedAt,
		}
	}
	return &QueueReply{Actions: out}, nil
}

func (s *Service) SendMessage(ctx context.Context, req *SendMessageRequest) (*MessageReply, error) {
	msg, err := s.app.Messages().Send(ctx, req.To, req.Content)
	if err != nil {
		return nil, err
	}
	return &MessageReply{Message: messageView(*msg)}, nil
}

func (s *Service) ResendMessage(ctx context.Context, req *IDRequest) (*MessageReply, error) {
	msg, err := s.app.Messages().Resend(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &MessageReply{Message: messageView(*msg)}, nil
}

func (s *Service) ListMessages(_ context.Context, req *ListMessagesRequest) (*MessagesReply, error) {
	msgs, err := s.app.Messages().List(req.Peer)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = messageView(m)
	}
	return &MessagesReply{Messages: out}, nil
}

func (s *Service) MarkRead(ctx context.Context, req *IDRequest) (*MessageReply, error) {
	msg, err := s.app.Messages().MarkRead(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &MessageReply{Message: messageView(*msg)}, nil
}

func (s *Service) RequestConnection(ctx context.Context, req *RequestConnectionRequest) (*ConnectionReply, error) {
	conn, err := s.app.Connections().Request(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &ConnectionReply{Connection: *conn}, nil
}

func (s *Service) RespondConnection(ctx context.Context, req *RespondRequest) (*ConnectionReply, error) {
	conn, err := s.app.Connections().Respond(ctx, req.ID, req.Accept)
	if err != nil {
		return nil, err
	}
	return &ConnectionReply{Connection: *conn}, nil
}

func (s *Service) ListConnections(context.Context, *Empty) (*ConnectionsReply, error) {
	conns, err := s.app.Connections().List()
	if err != nil {
		return nil, err
	}
	return &ConnectionsReply{Connections: conns}, nil
}

func (s *Service) ProposeMeetup(ctx context.Context, req *ProposeMeetupRequest) (*MeetupReply, error) {
	m, err := s.app.Meetups().Propose(ctx, social.Proposal{
		RecipientID:  req.To,
		Venue:        req.Venue,
		ProposedTime: req.Time,
		Message:      req.Message,
	})
	if err != nil {
		return nil, err
	}
	return &MeetupReply{Meetup: *m}, nil
}

func (s *Service) RespondMeetup(ctx context.Context, req *RespondRequest) (*MeetupReply, error) {
	m, err := s.app.Meetups().Respond(ctx, req.ID, req.Accept)
	if err != nil {
		return nil, err
	}
	return &MeetupReply{Meetup: *m}, nil
}

func (s *Service) CompleteMeetup(ctx context.Context, req *IDRequest) (*MeetupReply, error) {
	m, err := s.app.Meetups().Complete(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &MeetupReply{Meetup: *m}, nil
}

func (s *Service) ListMeetups(context.Context, *Empty) (*MeetupsReply, error) {
	meetups, err := s.app.Meetups().List()
	if err != nil {
		return nil, err
	}
	return &MeetupsReply{Meetups: meetups}, nil
}

func (s *Service) StartScan(context.Context, *Empty) (*StatusReply, error) {
	if err := s.app.StartScanning(); err != nil {
		return nil, err
	}
	return statusReply(s.app.Status()), nil
}

func (s *Service) StopScan(context.Context, *Empty) (*StatusReply, error) {
	s.app.StopScanning()
	return statusReply(s.app.Status()), nil
}

func (s *Service) ResetPermission(_ context.Context, req *PermissionRequest) (*StatusReply, error) {
	c := signal.Capability(req.Capability)
	if c != signal.CapBluetooth && c != signal.CapLocation {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown capability %q", req.Capability)
	}
	if err := s.app.ResetPermission(c); err != nil {
		return nil, err
	}
	return statusReply(s.app.Status()), nil
}

func (s *Service) GetProfile(context.Context, *Empty) (*ProfileReply, error) {
	p, err := s.app.Profiles().Self()
	if err != nil {
		return nil, err
	}
	return &ProfileReply{Profile: p}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*ProfileReply, error) {
	p, err := s.app.Profiles().Update(ctx, req.Fields)
	if err != nil {
		return nil, err
	}
	return &ProfileReply{Profile: p}, nil
}

// WatchEvents streams bus events until the client goes away. Events are
// dropped, not queued, when the client falls behind.
func (s *Service) WatchEvents(req *WatchRequest, stream grpc.ServerStream) error {
	ch, unsub := s.app.Bus().Subscribe("", 64)
	defer unsub()
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ch:
			if len(req.Prefixes) > 0 && !slices.ContainsFunc(req.Prefixes, func(p string) bool {
				return strings.HasPrefix(evt.Kind, p)
			}) {
				continue
			}
			out, err := encodeEvent(evt)
			if err != nil {
				s.logger.Warn("event not streamed", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

func encodeEvent(evt bus.Event) (*structpb.Struct, error) {
	payload := evt.Payload
	if d, ok := payload.(outbox.Drop); ok {
		var reason string
		if d.Err != nil {
			reason = d.Err.Error()
		}
		payload = struct {
			Action any    `json:"action"`
			Error  string `json:"error"`
		}{d.Action, reason}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return Encode(Event{Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: raw})
}

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client of the daemon's gRPC service.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if req == nil {
		req = api.Empty{}
	}
	in, err := api.Encode(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	return api.Decode(out, resp)
}

func (c *Client) GetStatus(ctx context.Context) (*api.StatusReply, error) {
	var r api.StatusReply
	return &r, c.call(ctx, "GetStatus", nil, &r)
}

func (c *Client) ListNearby(ctx context.Context) ([]domain.NearbyUser, error) {
	var r api.NearbyReply
	err := c.call(ctx, "ListNearby", nil, &r)
	return r.Users, err
}

func (c *Client) SetOnline(ctx context.Context, online bool) (*api.StatusReply, error) {
	var r api.StatusReply
	return &r, c.call(ctx, "SetOnline", api.SetOnlineRequest{Online: online}, &r)
}

func (c *Client) Drain(ctx context.Context) (*api.DrainReply, error) {
	var r api.DrainReply
	return &r, c.call(ctx, "Drain", nil, &r)
}

func (c *Client) ListQueue(ctx context.Context) ([]api.QueuedAction, error) {
	var r api.QueueReply
	err := c.call(ctx, "ListQueue", nil, &r)
	return r.Actions, err
}

func (c *Client) SendMessage(ctx context.Context, to, content string) (*api.Message, error) {
	var r api.MessageReply
	err := c.call(ctx, "SendMessage", api.SendMessageRequest{To: to, Content: content}, &r)
	return &r.Message, err
}

func (c *Client) ResendMessage(ctx context.Context, id string) (*api.Message, error) {
	var r api.MessageReply
	err := c.call(ctx, "ResendMessage", api.IDRequest{ID: id}, &r)
	return &r.Message, err
}

func (c *Client) ListMessages(ctx context.Context, peer string) ([]api.Message, error) {
	var r api.MessagesReply
	err := c.call(ctx, "ListMessages", api.ListMessagesRequest{Peer: peer}, &r)
	return r.Messages, err
}

func (c *Client) MarkRead(ctx context.Context, id string) (*api.Message, error) {
	var r api.MessageReply
	err := c.call(ctx, "MarkRead", api.IDRequest{ID: id}, &r)
	return &r.Message, err
}

func (c *Client) RequestConnection(ctx context.Context, userID string) (*domain.Connection, error) {
	var r api.ConnectionReply
	err := c.call(ctx, "RequestConnection", api.RequestConnectionRequest{UserID: userID}, &r)
	return &r.Connection, err
}

func (c *Client) RespondConnection(ctx context.Context, id string, accept bool) (*domain.Connection, error) {
	var r api.ConnectionReply
	err := c.call(ctx, "RespondConnection", api.RespondRequest{ID: id, Accept: accept}, &r)
	return &r.Connection, err
}

func (c *Client) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	var r api.ConnectionsReply
	err := c.call(ctx, "ListConnections", nil, &r)
	return r.Connections, err
}

func (c *Client) ProposeMeetup(ctx context.Context, req api.ProposeMeetupRequest) (*domain.Meetup, error) {
	var r api.MeetupReply
	err := c.call(ctx, "ProposeMeetup", req, &r)
	return &r.Meetup, err
}

func (c *Client) RespondMeetup(ctx context.Context, id string, accept bool) (*domain.Meetup, error) {
	var r api.MeetupReply
	err := c.call(ctx, "RespondMeetup", api.RespondRequest{ID: id, Accept: accept}, &r)
	return &r.Meetup, err
}

func (c *Client) CompleteMeetup(ctx context.Context, id string) (*domain.Meetup, error) {
	var r api.MeetupReply
	err := c.call(ctx, "CompleteMeetup", api.IDRequest{ID: id}, &r)
	return &r.Meetup, err
}

func (c *Client) ListMeetups(ctx context.Context) ([]domain.Meetup, error) {
	var r api.MeetupsReply
	err := c.call(ctx, "ListMeetups", nil, &r)
	return r.Meetups, err
}

func (c *Client) StartScan(ctx context.Context) (*api.StatusReply, error) {
	var r api.StatusReply
	return &r, c.call(ctx, "StartScan", nil, &r)
}

func (c *Client) StopScan(ctx context.Context) (*api.StatusReply, error) {
	var r api.StatusReply
	return &r, c.call(ctx, "StopScan", nil, &r)
}

func (c *Client) ResetPermission(ctx context.Context, capability string) (*api.StatusReply, error) {
	var r api.StatusReply
	return &r, c.call(ctx, "ResetPermission", api.PermissionRequest{Capability: capability}, &r)
}

func (c *Client) GetProfile(ctx context.Context) (*domain.Profile, error) {
	var r api.ProfileReply
	err := c.call(ctx, "GetProfile", nil, &r)
	return &r.Profile, err
}

func (c *Client) UpdateProfile(ctx context.Context, fields map[string]any) (*domain.Profile, error) {
	var r api.ProfileReply
	err := c.call(ctx, "UpdateProfile", api.UpdateProfileRequest{Fields: fields}, &r)
	return &r.Profile, err
}

// WatchEvents streams events whose kind starts with one of prefixes (all
// events when none are given) until ctx is done. The channel is closed when
// the stream ends.
func (c *Client) WatchEvents(ctx context.Context, prefixes ...string) (<-chan api.Event, error) {
	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.FullMethod("WatchEvents"))
	if err != nil {
		return nil, err
	}
	in, err := api.Encode(api.WatchRequest{Prefixes: prefixes})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	ch := make(chan api.Event, 16)
	go func() {
		defer close(ch)
		for {
			out := new(structpb.Struct)
			if err := stream.RecvMsg(out); err != nil {
				return
			}
			var evt api.Event
			if err := api.Decode(out, &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Probe reports whether a daemon answers on the connection.
func (c *Client) Probe(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := c.GetStatus(ctx)
	return err == nil
}

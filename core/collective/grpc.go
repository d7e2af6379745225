package collective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	hubServiceName = "simrestart.collective.v1.Hub"
	exchangeMethod = "/" + hubServiceName + "/Exchange"
)

// jsonCodec carries Contribution and Result as JSON so the service needs no
// generated protobuf code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

type hubServer interface {
	exchange(ctx context.Context, contribution *Contribution) (*Result, error)
}

type hubService struct {
	hub *Hub
}

func (s *hubService) exchange(ctx context.Context, contribution *Contribution) (*Result, error) {
	result, err := s.hub.Exchange(ctx, *contribution)
	if err != nil {
		return nil, hubStatus(err)
	}
	return &result, nil
}

func hubStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrMismatchedCall), errors.Is(err, ErrInvalidRank):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Contribution)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(hubServer).exchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: exchangeMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(hubServer).exchange(ctx, req.(*Contribution))
	}
	return interceptor(ctx, in, info, handler)
}

var hubServiceDesc = grpc.ServiceDesc{
	ServiceName: hubServiceName,
	HandlerType: (*hubServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exchange",
			Handler:    exchangeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "simrestart/collective/hub",
}

// NewHubServer returns a gRPC server that exposes hub to remote ranks.
func NewHubServer(hub *Hub, opts ...grpc.ServerOption) *grpc.Server {
	options := append([]grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}, opts...)
	server := grpc.NewServer(options...)
	server.RegisterService(&hubServiceDesc, &hubService{hub: hub})
	return server
}

// ServeHub serves hub on listener until the server stops.
func ServeHub(server *grpc.Server, listener net.Listener) error {
	if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve collective hub: %w", err)
	}
	return nil
}

// RemoteHub is an Exchanger backed by a hub in another process.
type RemoteHub struct {
	conn *grpc.ClientConn
}

// DialHub connects to the hub listening at target.
func DialHub(target string, opts ...grpc.DialOption) (*RemoteHub, error) {
	options := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)
	conn, err := grpc.NewClient(target, options...)
	if err != nil {
		return nil, fmt.Errorf("dial collective hub %s: %w", target, err)
	}
	return &RemoteHub{conn: conn}, nil
}

func (r *RemoteHub) Exchange(ctx context.Context, contribution Contribution) (Result, error) {
	var result Result
	if err := r.conn.Invoke(ctx, exchangeMethod, &contribution, &result); err != nil {
		return Result{}, fmt.Errorf("collective %s on group %q: %w", contribution.Op, contribution.Group, err)
	}
	return result, nil
}

func (r *RemoteHub) Close() error {
	return r.conn.Close()
}

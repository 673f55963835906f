package grpcx

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/maxpoletaev/cohort/transport"
)

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Conn      = (*conn)(nil)
	_ transport.Binding   = (*binding)(nil)
)

const callMethod = "/cohort.Transport/Call"

// serviceDesc is written out by hand: the service has a single unary Call
// method exchanging raw envelope bytes, so there is nothing for protoc to
// generate.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "cohort.Transport",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cohort/transport.proto",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	in := new(rawMessage)
	if err := dec(in); err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(in.data)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed envelope: %v", err)
	}

	payload, err := srv.(*server).handler(ctx, env)
	if err != nil {
		return nil, err
	}

	return &rawMessage{data: payload}, nil
}

type server struct {
	handler transport.Handler
}

// Transport exchanges envelopes over grpc. Member URIs are host:port pairs
// the grpc server listens on.
type Transport struct{}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) Bind(uri string, handler transport.Handler) (transport.Binding, error) {
	lis, err := net.Listen("tcp", uri)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", uri, err)
	}

	srv := grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	srv.RegisterService(&serviceDesc, &server{handler: handler})

	go func() {
		_ = srv.Serve(lis)
	}()

	return &binding{srv: srv}, nil
}

func (t *Transport) Dial(ctx context.Context, uri string) (transport.Conn, error) {
	cc, err := grpc.DialContext(
		ctx,
		uri,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", uri, err)
	}

	return &conn{cc: cc, uri: uri}, nil
}

type binding struct {
	srv *grpc.Server
}

func (b *binding) Close() error {
	b.srv.GracefulStop()
	return nil
}

type conn struct {
	cc  *grpc.ClientConn
	uri string
}

func (c *conn) Send(ctx context.Context, env *transport.Envelope) ([]byte, error) {
	var out rawMessage

	in := &rawMessage{data: encodeEnvelope(env)}

	if err := c.cc.Invoke(ctx, callMethod, in, &out); err != nil {
		if status.Code(err) == codes.Unavailable {
			return nil, fmt.Errorf("%w: %s", transport.ErrNoPeer, c.uri)
		}

		return nil, err
	}

	return out.data, nil
}

func (c *conn) Close() error {
	return c.cc.Close()
}

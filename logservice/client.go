package logservice

import (
	"context"
	"time"

	"github.com/Netflix/devdiag/logger"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logrus "github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/plugin/ocgrpc"
	"google.golang.org/grpc"
)

// Client is a single connection to the log service
type Client interface {
	Version(ctx context.Context) (int, error)
	SetTagFilter(ctx context.Context, tags []string) error
	// GetNextEntry returns the oldest entry newer than afterMillis, or a nil Entry if there is none
	GetNextEntry(ctx context.Context, afterMillis int64) (Entry, error)
	Close() error
}

// Connector opens connections to the log service
type Connector interface {
	Connect(ctx context.Context) (Client, error)
}

// GRPCConnector dials the log service over gRPC
type GRPCConnector struct {
	// Target is a gRPC dial target, for example unix:///run/devdiag/logservice.sock
	Target string
	// CallTimeout bounds every individual request, zero leaves it to the caller's context
	CallTimeout time.Duration
	DialOptions []grpc.DialOption
}

func (c *GRPCConnector) Connect(ctx context.Context) (Client, error) {
	entry := logrusEntry(ctx).WithField("origin", "grpc")
	opts := []grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithStatsHandler(&ocgrpc.ClientHandler{}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithUnaryInterceptor(
			grpc_middleware.ChainUnaryClient(
				grpc_logrus.UnaryClientInterceptor(entry),
			)),
	}
	opts = append(opts, c.DialOptions...)

	conn, err := grpc.DialContext(ctx, c.Target, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "Cannot dial log service at %s", c.Target)
	}
	return &grpcClient{conn: conn, callTimeout: c.CallTimeout}, nil
}

func logrusEntry(ctx context.Context) *logrus.Entry {
	switch l := logger.G(ctx).(type) {
	case *logrus.Entry:
		return l
	case *logrus.Logger:
		return logrus.NewEntry(l)
	default:
		return logrus.NewEntry(logrus.StandardLogger())
	}
}

type grpcClient struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
}

func (c *grpcClient) invoke(ctx context.Context, method string, in, out interface{}) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

func (c *grpcClient) Version(ctx context.Context) (int, error) {
	out := new(VersionResponse)
	if err := c.invoke(ctx, "Version", &VersionRequest{}, out); err != nil {
		return 0, errors.Wrap(err, "Cannot query log service version")
	}
	return int(out.Version), nil
}

func (c *grpcClient) SetTagFilter(ctx context.Context, tags []string) error {
	out := new(SetTagFilterResponse)
	if err := c.invoke(ctx, "SetTagFilter", &SetTagFilterRequest{Tags: tags}, out); err != nil {
		return errors.Wrap(err, "Cannot install tag filter")
	}
	return nil
}

func (c *grpcClient) GetNextEntry(ctx context.Context, afterMillis int64) (Entry, error) {
	out := new(GetNextEntryResponse)
	if err := c.invoke(ctx, "GetNextEntry", &GetNextEntryRequest{AfterMillis: afterMillis}, out); err != nil {
		return nil, errors.Wrapf(err, "Cannot get entry after %d", afterMillis)
	}
	if out.Entry == nil {
		return nil, nil
	}
	return NewEntry(out.Entry), nil
}

func (c *grpcClient) Close() error {
	return c.conn.Close()
}

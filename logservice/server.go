package logservice

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/metrics-client-go/metrics"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logrus "github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus"
	"github.com/pkg/errors"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/tag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	MethodTag     = tag.MustNewKey("method")
	ReturnCodeTag = tag.MustNewKey("returnCode")
)

// DirServer serves entries out of a spool directory laid out like the platform drop box:
// one file per entry named <tag>@<time ms>.txt, optionally gzipped (.gz) or marked lost (.lost).
// The tag filter is shared by all callers, the last SetTagFilter wins.
type DirServer struct {
	dir string
	// InlineMaxBytes sends payloads up to this size inline rather than by path, zero disables it
	InlineMaxBytes int64

	mu   sync.Mutex
	tags map[string]struct{}
}

var _ LogServiceServer = (*DirServer)(nil)

func NewDirServer(dir string) *DirServer {
	return &DirServer{dir: dir}
}

func (s *DirServer) Version(context.Context, *VersionRequest) (*VersionResponse, error) {
	return &VersionResponse{Version: ServiceVersion}, nil
}

func (s *DirServer) SetTagFilter(ctx context.Context, req *SetTagFilterRequest) (*SetTagFilterResponse, error) {
	tags := make(map[string]struct{}, len(req.Tags))
	for _, t := range req.Tags {
		tags[t] = struct{}{}
	}
	s.mu.Lock()
	s.tags = tags
	s.mu.Unlock()
	logger.G(ctx).WithField("tags", req.Tags).Debug("Installed tag filter")
	return &SetTagFilterResponse{}, nil
}

type spoolFile struct {
	name       string
	tag        string
	timeMillis int64
	lost       bool
	compressed bool
}

func parseSpoolName(name string) (spoolFile, bool) {
	at := strings.LastIndex(name, "@")
	if at <= 0 {
		return spoolFile{}, false
	}
	rest := name[at+1:]
	dot := strings.Index(rest, ".")
	if dot <= 0 {
		return spoolFile{}, false
	}
	t, err := strconv.ParseInt(rest[:dot], 10, 64)
	if err != nil {
		return spoolFile{}, false
	}
	suffix := rest[dot:]
	return spoolFile{
		name:       name,
		tag:        name[:at],
		timeMillis: t,
		lost:       suffix == ".lost",
		compressed: strings.HasSuffix(suffix, ".gz"),
	}, true
}

func (s *DirServer) GetNextEntry(ctx context.Context, req *GetNextEntryRequest) (*GetNextEntryResponse, error) {
	files, err := ioutil.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return &GetNextEntryResponse{}, nil
	} else if err != nil {
		return nil, status.Errorf(codes.Unavailable, "cannot list spool directory: %v", err)
	}

	s.mu.Lock()
	tags := s.tags
	s.mu.Unlock()

	var next *spoolFile
	for _, fi := range files {
		if !fi.Mode().IsRegular() {
			continue
		}
		sf, ok := parseSpoolName(fi.Name())
		if !ok || sf.timeMillis <= req.AfterMillis {
			continue
		}
		if tags != nil {
			if _, wanted := tags[sf.tag]; !wanted {
				continue
			}
		}
		if next == nil || sf.timeMillis < next.timeMillis {
			candidate := sf
			next = &candidate
		}
	}
	if next == nil {
		return &GetNextEntryResponse{}, nil
	}

	wire := &WireEntry{Tag: next.tag, TimeMillis: next.timeMillis}
	if next.lost {
		return &GetNextEntryResponse{Entry: wire}, nil
	}
	path := filepath.Join(s.dir, next.name)
	wire.Compressed = next.compressed
	if s.InlineMaxBytes > 0 {
		fi, err := os.Stat(path)
		if err == nil && fi.Size() <= s.InlineMaxBytes {
			data, err := ioutil.ReadFile(path)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "cannot read %s: %v", next.name, err)
			}
			wire.Data = data
			return &GetNextEntryResponse{Entry: wire}, nil
		}
	}
	wire.Path = path
	return &GetNextEntryResponse{Entry: wire}, nil
}

// NewServer builds a gRPC server for srv with the logging, tracing and metrics interceptors
func NewServer(ctx context.Context, m metrics.Reporter, srv LogServiceServer) *grpc.Server {
	entry := logrusEntry(ctx).WithField("origin", "grpc")
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(&ocgrpc.ServerHandler{}),
		grpc_middleware.WithUnaryServerChain(
			grpc_logrus.UnaryServerInterceptor(entry),
			UnaryMetricsHandler(m),
		),
	)
	RegisterLogServiceServer(grpcServer, srv)
	return grpcServer
}

// UnaryMetricsHandler logs every finished call and counts it by method and status code
func UnaryMetricsHandler(m metrics.Reporter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := tag.New(ctx, tag.Upsert(MethodTag, info.FullMethod))
		if err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := handler(ctx, req)

		st, _ := status.FromError(errors.Cause(err))
		duration := time.Since(start)
		l := logger.G(ctx).WithField("method", info.FullMethod).WithField("statusCode", st.Code().String()).WithField("duration", duration.String())
		fun := l.Debug
		if err != nil {
			fun = l.WithError(err).Warn
		}
		fun("Finished unary call")

		tags := map[string]string{"method": info.FullMethod, "returnCode": st.Code().String()}
		m.Counter("devdiag.logservice.calls", 1, tags)
		m.Timer("devdiag.logservice.latency", duration, tags)

		return result, err
	}
}

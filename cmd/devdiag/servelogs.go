package main

import (
	"context"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Netflix/devdiag/cmd/common"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/logservice"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pkgviper "github.com/spf13/viper"
)

func serveLogsCommand(getCtx func() context.Context, v *pkgviper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-logs SPOOL_DIR",
		Short: "Serve a drop box spool directory as the log service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := common.CancelOnTermination(getCtx())
			defer cancel()

			listener, err := listen(v.GetString(logServiceFlagName))
			if err != nil {
				return err
			}
			srv := logservice.NewDirServer(args[0])
			srv.InlineMaxBytes = v.GetInt64("inline-max-bytes")
			grpcServer := logservice.NewServer(ctx, metrics.Discard, srv)
			go func() {
				<-ctx.Done()
				grpcServer.GracefulStop()
			}()
			logger.G(ctx).WithField("dir", args[0]).Info("Serving log spool")
			return grpcServer.Serve(listener)
		},
	}
	cmd.Flags().Int64("inline-max-bytes", 64*1024, "Send entries up to this size inline instead of by path")
	return cmd
}

// listen accepts the same unix:// and host:port targets the client dials
func listen(target string) (net.Listener, error) {
	u, err := url.Parse(target)
	if err == nil && u.Scheme == "unix" {
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		_ = os.Remove(path)
		l, err := net.Listen("unix", path)
		return l, errors.Wrapf(err, "Cannot listen on %s", path)
	}
	l, err := net.Listen("tcp", target)
	return l, errors.Wrapf(err, "Cannot listen on %s", target)
}

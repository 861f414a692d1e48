package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Netflix/devdiag/admin"
	"github.com/Netflix/devdiag/cmd/common"
	"github.com/Netflix/devdiag/heartbeat"
	"github.com/Netflix/devdiag/linkeddevice"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/mar"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/settings"
	"github.com/Netflix/devdiag/tokenbucket"
	"github.com/Netflix/devdiag/uploader"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pkgviper "github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func runCommand(getCtx func() context.Context, v *pkgviper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the collection daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(getCtx(), v)
		},
	}

	cmd.Flags().Duration("collect-interval", 15*time.Minute, "How often the log service is drained")
	cmd.Flags().Duration("retention-interval", time.Hour, "How often the staging directory is cleaned up")
	cmd.Flags().Duration("heartbeat-interval", time.Hour, "How often a heartbeat is uploaded")
	cmd.Flags().Duration("mar-check-interval", 5*time.Minute, "How often the MAR batch age is checked")
	cmd.Flags().Duration("settings-interval", 15*time.Minute, "How often a settings refresh is attempted")
	cmd.Flags().String("settings-endpoint", "", "URL settings are fetched from, empty disables refreshes")
	cmd.Flags().Int("settings-refresh-capacity", 2, "Settings refreshes allowed back to back")
	cmd.Flags().Duration("settings-refresh-period", time.Hour, "Time for one settings refresh token to refill")
	cmd.Flags().StringSlice("battery-stats-command", nil, "Command printing the battery history, empty disables heartbeats")
	cmd.Flags().String("admin-addr", "127.0.0.1:8585", "Listen address of the admin endpoint, empty disables it")

	return cmd
}

func runDaemon(ctx context.Context, v *pkgviper.Viper) error {
	ctx, cancel := common.CancelOnTermination(ctx)
	defer cancel()
	go common.HandleQuitSignal(ctx)

	p, err := newPipeline(ctx, v)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		p.close(logger.WithLogger(closeCtx, logger.G(ctx)))
	}()

	// Batches sealed by a previous process never got their upload
	if _, err = p.holdingArea.ResubmitSealed(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("Cannot resubmit sealed MAR batches")
	}

	marCheck := &mar.CheckTask{HoldingArea: p.holdingArea}
	tasks := []runner.Task{p.collector, p.retention, marCheck}
	scheduler := runner.NewScheduler(p.m)
	scheduler.Add(p.collector, v.GetDuration("collect-interval"))
	scheduler.Add(p.retention, v.GetDuration("retention-interval"))
	scheduler.Add(marCheck, v.GetDuration("mar-check-interval"))

	if endpoint := v.GetString("settings-endpoint"); endpoint != "" {
		update := &settings.UpdateTask{
			Endpoint: endpoint,
			Client:   &http.Client{Timeout: time.Minute},
			Buckets: tokenbucket.New(tokenbucket.Config{
				Capacity:     v.GetInt("settings-refresh-capacity"),
				RefillPeriod: v.GetDuration("settings-refresh-period"),
			}),
			Devices: p.devices,
			Store:   p.settings,
		}
		scheduler.Add(update, v.GetDuration("settings-interval"))
		tasks = append(tasks, update)
	}

	if command := v.GetStringSlice("battery-stats-command"); len(command) > 0 {
		hb := &heartbeat.Task{
			Collector: &heartbeat.CommandCollector{Command: command, StagingDir: p.stagingDir},
			Router:    p.router,
			Devices:   p.devices,
			Times:     p.times,
			LastEnd:   heartbeat.NewFileLastEndStore(filepath.Join(p.stateDir, "heartbeat.json")),
		}
		scheduler.Add(hb, v.GetDuration("heartbeat-interval"))
		tasks = append(tasks, hb)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return scheduler.Run(ctx)
	})

	if addr := v.GetString("admin-addr"); addr != "" {
		srv := &http.Server{
			Handler:      admin.NewServer(ctx, p.m, p.settings, p.holdingArea, tasks...),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Minute,
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "Cannot listen on %s", addr)
		}
		group.Go(func() error {
			if err := srv.Serve(listener); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// The role is read once, switching a device between client and server takes a restart
	if p.settings.Get().ClientServerMode == settings.ClientServerServer {
		receiver, err := linkeddevice.NewReceiver(amqpConfig(v), filepath.Join(p.stateDir, "received"), receivedFileHandler(p.holdingArea))
		if err != nil {
			return err
		}
		group.Go(func() error {
			return receiveUntilDone(ctx, receiver)
		})
	}

	logger.G(ctx).Info("Daemon started")
	err = group.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func receivedFileHandler(holdingArea *mar.HoldingArea) linkeddevice.FileHandler {
	return func(ctx context.Context, file, tag string) error {
		if tag != uploader.ClientServerFileUploadTag {
			return errors.Errorf("Unexpected file tag %q", tag)
		}
		return holdingArea.AddMarFile(ctx, file)
	}
}

// receiveUntilDone keeps the receiver connected, reconnecting after broker failures
func receiveUntilDone(ctx context.Context, receiver *linkeddevice.Receiver) error {
	const reconnectDelay = 30 * time.Second
	for {
		if err := receiver.Run(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("Linked device receiver stopped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

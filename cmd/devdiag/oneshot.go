package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Netflix/devdiag/cmd/common"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/runner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	pkgviper "github.com/spf13/viper"
)

func drainCommand(getCtx func() context.Context, v *pkgviper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Collect every pending log service entry once and wait for the uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(getCtx(), v, func(p *pipeline) runner.Task { return p.collector })
		},
	}
	cmd.Flags().Duration("timeout", 10*time.Minute, "How long to allow the drain to run for")
	return cmd
}

func cleanupCommand(getCtx func() context.Context, v *pkgviper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Apply the staging retention limits once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(getCtx(), v, func(p *pipeline) runner.Task { return p.retention })
		},
	}
	cmd.Flags().Duration("timeout", time.Minute, "How long to allow the cleanup to run for")
	return cmd
}

func uploadBugReportCommand(getCtx func() context.Context, v *pkgviper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload-bugreport FILE",
		Short: "Upload a bug report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(getCtx(), v.GetDuration("timeout"))
			defer cancel()
			ctx, cancel = common.CancelOnTermination(ctx)
			defer cancel()

			p, err := newPipeline(ctx, v)
			if err != nil {
				return err
			}
			defer p.close(ctx)

			completion, err := p.bugReports.Upload(ctx, args[0], v.GetString("request-id"))
			if err != nil {
				return err
			}
			if err = completion.Wait(ctx); err != nil {
				return errors.Wrap(err, "Bug report upload failed")
			}
			logger.G(ctx).WithField("file", args[0]).Info("Bug report delivered")
			return nil
		},
	}
	cmd.Flags().String("request-id", "", "Identifier of the request that asked for the report")
	cmd.Flags().Duration("timeout", 10*time.Minute, "How long to allow the upload to run for")
	return cmd
}

func runOnce(ctx context.Context, v *pkgviper.Viper, pick func(*pipeline) runner.Task) error {
	ctx, cancel := context.WithTimeout(ctx, v.GetDuration("timeout"))
	defer cancel()
	ctx, cancel = common.CancelOnTermination(ctx)
	defer cancel()

	p, err := newPipeline(ctx, v)
	if err != nil {
		return err
	}
	defer p.close(ctx)

	task := pick(p)
	if result := runner.Run(ctx, p.m, task); result == runner.Failure {
		return fmt.Errorf("%s failed", task.Name())
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Netflix/devdiag/filelogger"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/logsutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	pkgviper "github.com/spf13/viper"
)

func main() {
	var cfgFile string

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logruslogger := logrus.New()
	ctx = logger.WithLogger(ctx, logruslogger)
	v := pkgviper.New()

	rootCmd := &cobra.Command{
		Use:          "devdiag",
		Short:        "Collects device diagnostics and uploads them",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				panic(err)
			}
			ctx = logger.WithLogger(ctx, logger.G(ctx).WithField("command", cmd.Name()))
			level, err := logrus.ParseLevel(v.GetString("log-level"))
			if err != nil {
				return err
			}
			logruslogger.SetLevel(level)
			logsutil.MaybeSetupJournald(logruslogger, v.GetBool("journald"))

			if logDir := v.GetString("log-dir"); logDir != "" {
				hook, err := filelogger.NewHook(filelogger.Config{
					Dir:         logDir,
					BaseName:    "devdiag-" + cmd.Name(),
					MaxFileSize: v.GetInt64("log-file-size"),
					MaxFiles:    v.GetInt("log-files"),
				})
				if err != nil {
					return err
				}
				logruslogger.AddHook(hook)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	// cobra doesn't read env vars, viper sources them from the bound pflags
	rootCmd.PersistentFlags().String("log-level", "info", "")
	rootCmd.PersistentFlags().Bool("journald", false, "Always log to journald, not only when running as a systemd unit")
	rootCmd.PersistentFlags().String("log-dir", "", "Also write logs to rotated files in this directory")
	rootCmd.PersistentFlags().Int64("log-file-size", 10*1024*1024, "Rotate log files at this size")
	rootCmd.PersistentFlags().Int("log-files", 5, "Rotated log files to keep")
	addSharedFlags(rootCmd.PersistentFlags())

	v.SetEnvPrefix("DEVDIAG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	// Subcommands read ctx lazily, after PersistentPreRunE has decorated it
	getCtx := func() context.Context { return ctx }
	rootCmd.AddCommand(runCommand(getCtx, v))
	rootCmd.AddCommand(drainCommand(getCtx, v))
	rootCmd.AddCommand(cleanupCommand(getCtx, v))
	rootCmd.AddCommand(uploadBugReportCommand(getCtx, v))
	rootCmd.AddCommand(serveLogsCommand(getCtx, v))

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		}

		v.AutomaticEnv()

		if err := v.ReadInConfig(); err == nil {
			fmt.Println("Using config file:", v.ConfigFileUsed())
		}
	})
	err := rootCmd.Execute()
	if err != nil {
		logger.G(ctx).WithError(err).Fatal("Failed")
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orthanc/postcleaner/cleaner"
	"github.com/orthanc/postcleaner/config"
	"github.com/orthanc/postcleaner/guard"
	"github.com/orthanc/postcleaner/recordstore"
	"github.com/orthanc/postcleaner/session"
	"github.com/orthanc/postcleaner/web"
)

var version = "dev"

const refreshCheckInterval = time.Minute

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "postcleaner",
		Short:        "Force-delete your own Bluesky posts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("POSTCLEANER_CONFIG"), "path to config TOML")

	var listenHost string
	var port int
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Sign in and serve the cleaner page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("listen-host") {
				cfg.Server.ListenHost = listenHost
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return serveCleaner(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVar(&listenHost, "listen-host", "", "address to listen on")
	serve.Flags().IntVar(&port, "port", 0, "port to listen on")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "postcleaner %s\n", version)
		},
	}

	root.AddCommand(serve, versionCmd)
	return root
}

func newLogger(level string) (*log.Logger, error) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           parsed,
		Prefix:          "postcleaner",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.TextFormatter,
	}), nil
}

func serveCleaner(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	httpTimeout, err := cfg.HTTPTimeout()
	if err != nil {
		return err
	}
	refreshWindow, err := cfg.RefreshWindow()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	current, err := session.Login(ctx, session.Options{
		Handle:        cfg.Account.Handle,
		AppPassword:   cfg.Account.AppPassword,
		PDSHost:       cfg.Account.PDSHost,
		HTTPTimeout:   httpTimeout,
		RefreshWindow: refreshWindow,
	}, logger)
	if err != nil {
		return err
	}

	busy := guard.NewBusy()
	postCleaner := cleaner.NewCleaner(
		recordstore.NewXRPCStore(current),
		cleaner.Config{VerifyExists: cfg.Cleaner.VerifyExists},
		logger,
	)
	server := web.NewServer(postCleaner, current, busy, web.NewMetrics(), logger, uuid.NewString)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return current.Run(groupCtx, refreshCheckInterval)
	})
	group.Go(func() error {
		return web.StartServer(groupCtx, cfg.ListenAddress(), server.Routes(), logger)
	})
	err = group.Wait()

	// Let an in-flight clean finish before the session goes away.
	busy.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !current.Active() {
		return err
	}
	if closeErr := current.Close(closeCtx); closeErr != nil {
		logger.Warn("sign out failed", "err", closeErr)
	}
	return err
}

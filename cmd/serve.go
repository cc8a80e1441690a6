package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/schedule"
	"github.com/kozaktomas/camflow/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the CamFlow API server.
The server accepts analysis tasks, exposes their progress for polling,
manages person groups and session history, and serves Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("sweep", "", "Cron spec of the interrupted task sweeper (defaults to SWEEP_SPEC)")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// startSweeper marks tasks orphaned by a previous process as interrupted,
// once now and then on spec.
func startSweeper(ctx context.Context, a *app, spec string, log *zap.Logger) (*schedule.Scheduler, error) {
	if spec == "" {
		spec = a.cfg.Pipeline.SweepSpec
	}
	if spec == "" {
		spec = constants.DefaultSweepSpec
	}

	sched := schedule.New()
	err := sched.AddJob(schedule.FuncJob{
		JobName: "sweep-interrupted-tasks",
		Fn: func(ctx context.Context) error {
			n, err := a.runner.Sweep(ctx)
			if n > 0 {
				log.Info("marked interrupted tasks", zap.Int("count", n))
			}
			return err
		},
	}, spec)
	if err != nil {
		return nil, err
	}
	sched.Start(ctx)
	sched.RunNow("sweep-interrupted-tasks")
	return sched, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, log, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.Web.APIToken == "" {
		return errors.New("CAMFLOW_API_TOKEN environment variable is required to serve the API")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	readyCtx, readyCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.inference.Ready(readyCtx); err != nil {
		log.Warn("inference sidecar is not ready, recognition will fail until it is", zap.Error(err))
	}
	readyCancel()
	if a.cfg.Web.ImageRoot == "" {
		log.Info("local image references are disabled, set CAMFLOW_IMAGE_ROOT to allow them")
	}

	sched, err := startSweeper(ctx, a, mustGetString(cmd, "sweep"), log)
	if err != nil {
		return err
	}
	defer sched.Stop()

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(a.cfg, port, host, web.Services{
		Tasks:      a.runner,
		Persons:    a.persons,
		Recognizer: a.recognizer,
		Sessions:   a.sessions,
		Images:     a.images,
		Models:     a.models,
		Channels:   a.dispatcher,
	}, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// running tasks finish before the store closes
	a.runner.Wait()
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HilloriDesai/FileUpload/internal/api"
	"github.com/HilloriDesai/FileUpload/internal/config"
	"github.com/HilloriDesai/FileUpload/internal/logging"
	"github.com/HilloriDesai/FileUpload/internal/queue"
	"github.com/HilloriDesai/FileUpload/internal/service"
	"github.com/HilloriDesai/FileUpload/internal/storage"
	"github.com/HilloriDesai/FileUpload/internal/validation"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fileupload: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fileupload",
		Short: "FileUpload development CLI",
		Long: `Manages the local backing services (Postgres, MinIO, Redis), runs an
in-memory API server for quick iteration, and triggers maintenance jobs by hand.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newStackCmd(),
		newServeCmd(),
		newSweepCmd(),
	)
	return cmd
}

// newStackCmd groups the docker compose commands for the backing services the
// server and worker connect to. The compose file only runs infrastructure;
// the Go binaries themselves run locally via go run.
func newStackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the docker compose backing services",
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "compose file describing the backing services")
	cmd.AddCommand(newStackUpCmd(), newStackDownCmd(), newStackLogsCmd())
	return cmd
}

func newStackUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up [service...]",
		Short: "Start Postgres, MinIO and Redis in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := append([]string{"compose", "-f", composeFile, "up", "-d"}, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
}

func newStackDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the backing services",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "down"}
			if removeVolumes {
				composeArgs = append(composeArgs, "-v")
			}
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Also remove data volumes")
	return cmd
}

func newStackLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Tail logs from the backing services",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "logs"}
			if follow {
				composeArgs = append(composeArgs, "-f")
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs continuously")
	return cmd
}

// newServeCmd runs the full HTTP API against in-memory stores. Nothing is
// persisted across restarts, and no backing services are needed.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server with in-memory stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Address = addr
			}
			logger, err := logging.New(true)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			rules := validation.Rules{
				MaxUploadSize:     cfg.MaxUploadSize,
				AllowedExtensions: cfg.AllowedExtensions,
			}
			svc := service.New(rules, storage.NewMemoryStore(), storage.NewMemoryBlobStore(), nil, logger)
			logger.Info("serving with in-memory stores", zap.String("address", cfg.Address))
			return api.New(cfg, svc, logger).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides FILEUPLOAD_ADDRESS)")
	return cmd
}

// newSweepCmd enqueues one bin sweep so the worker purges expired binned
// files without waiting for the next scheduled run.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue a bin sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client := queue.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			defer client.Close()
			if err := client.EnqueueBinSweep(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("bin sweep enqueued")
			return nil
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}

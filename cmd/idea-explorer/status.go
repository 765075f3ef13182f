package main

import (
	"encoding/json"
	"fmt"
	"os"

	"idea-explorer/internal/config"
	"idea-explorer/internal/infra/logging"
	red "idea-explorer/internal/infra/redis"
	"idea-explorer/internal/infra/security"
	"idea-explorer/internal/usecase"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print the stored status of a job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.NewWithWriter(os.Stderr, cfg.Log, cfg.Runtime.Dev)

	client, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer client.Close()

	var opts []red.JobRepoOption
	if cfg.Security.EncryptionKey != "" {
		sealer, err := security.NewSecretSealer(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		opts = append(opts, red.WithSealer(sealer))
	}
	jobs := usecase.NewJobUseCase(red.NewJobRepo(client, logger, opts...), nil, logger)

	view, err := jobs.Status(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgPath string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "idea-explorer",
	Short: "Research ideas with an LLM and publish the results to GitHub",
	Long: `idea-explorer accepts ideas over HTTP, researches them in the background
and commits the resulting documents to a GitHub repository.

Examples:
  idea-explorer serve --config config.yaml
  idea-explorer status 01HV...
  idea-explorer token --subject ci --ttl 720h`,
	SilenceUsage: true,
	Version:      version + " (" + commit + ")",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode (noop generator when no AI key is set)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

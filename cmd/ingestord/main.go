package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketpulse/ingestor/internal/config"
	"github.com/marketpulse/ingestor/internal/logging"
)

const version = "v0.1.0"

func main() {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:     "ingestord",
		Short:   "Multi-exchange cryptocurrency market-data ingestion daemon",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logLevel)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("ingestord: load config: %w", err)
			}
			return runServe(cfg)
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running instance's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logLevel)
			addr, _ := cmd.Flags().GetString("addr")
			return runHealthCheck(addr)
		},
	}
	healthCmd.Flags().String("addr", "http://localhost:8080", "base URL of a running ingestord instance")

	replicateCmd := &cobra.Command{
		Use:   "replicate",
		Short: "Hot-to-cold store replication",
	}
	replicateOnceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single replication pass for every configured table and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logLevel)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("ingestord: load config: %w", err)
			}
			return runReplicateOnce(cfg)
		},
	}
	replicateCmd.AddCommand(replicateOnceCmd)

	root.AddCommand(serveCmd, healthCmd, replicateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cfg *config.AppConfig) error {
	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.run(ctx)
}

func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return fmt.Errorf("ingestord: health request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ingestord: read health response: %w", err)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
	} else {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingestord: instance reported status %d", resp.StatusCode)
	}
	return nil
}

func runReplicateOnce(cfg *config.AppConfig) error {
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	rep := svc.buildReplicator()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := rep.ReplicateOnce(ctx); err != nil {
		return fmt.Errorf("ingestord: replicate once: %w", err)
	}
	fmt.Println("replication pass complete")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"rootcause/internal/chunker"
	"rootcause/internal/config"
	"rootcause/internal/knowledge"
	"rootcause/internal/storage"
)

var (
	rootCmd = &cobra.Command{
		Use:   "rootcause",
		Short: "Correlate Kubernetes error logs with the source code that caused them",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		},
	}
	configPath string
	verbose    bool
	logger     = slog.Default()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(inspectCmd)
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func openIndex(ctx context.Context, cfg *config.Config) storage.Index {
	idx, err := storage.Open(ctx, storage.Options{
		Backend:     cfg.Index.Backend,
		Path:        cfg.Index.Path,
		PostgresDSN: cfg.Index.PostgresDSN,
		Table:       cfg.Index.Table,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("Failed to open index: %v", err)
	}
	return idx
}

func newEmbedder(ctx context.Context, cfg *config.Config) knowledge.Embedder {
	p := cfg.AI.Embedding
	embedder, err := knowledge.NewEmbedder(ctx, knowledge.EmbedderOptions{
		Provider:   p.Provider,
		APIKey:     p.APIKey,
		Model:      p.Model,
		Dimension:  p.Dimension,
		BaseURL:    p.BaseURL,
		APIVersion: p.APIVersion,
		Timeout:    cfg.AI.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	return embedder
}

func newAnalyst(ctx context.Context, cfg *config.Config) knowledge.Analyst {
	p := cfg.AI.Inference
	analyst, err := knowledge.NewAnalyst(ctx, knowledge.AnalystOptions{
		Provider:   p.Provider,
		APIKey:     p.APIKey,
		Model:      p.Model,
		BaseURL:    p.BaseURL,
		APIVersion: p.APIVersion,
		Timeout:    cfg.AI.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create analyst: %v", err)
	}
	return analyst
}

func metric(cfg *config.Config) knowledge.Metric {
	m, err := knowledge.ParseMetric(cfg.Index.Metric)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return m
}

func splitter(cfg *config.Config) chunker.Splitter {
	s, err := chunker.New(cfg.Index.Splitter, cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return s
}

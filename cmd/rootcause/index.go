package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"rootcause/internal/crawler"
	"rootcause/internal/index"
	"rootcause/internal/pipeline"
	"rootcause/internal/storage"
)

var (
	cloneRepo bool
	indexRoot string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Chunk, embed and publish the application source tree",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if indexRoot != "" {
			cfg.Project.Root = indexRoot
		}
		if err := cfg.ValidateIndex(); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}

		ctx := context.Background()
		start := time.Now()

		idx := openIndex(ctx, cfg)
		defer idx.Close()
		embedder := newEmbedder(ctx, cfg)
		split := splitter(cfg)
		m := metric(cfg)

		fmt.Printf("📂 Indexing %s into %s\n", cfg.Project.Root, idx.Location())

		run := &pipeline.IndexRun{
			Root:    cfg.Project.Root,
			RepoURL: cfg.Project.RepoURL,
			Clone:   cloneRepo,
			Crawler: crawler.NewCrawler(cfg.Project.Extensions, cfg.Project.Filenames, logger),
			NewBuilder: func(revision string) *index.Builder {
				return index.NewBuilder(split, embedder, idx, index.Options{
					Metric:         m,
					EmbeddingModel: cfg.AI.Embedding.Model,
					BatchSize:      cfg.Index.BatchSize,
					Revision:       revision,
					Logger:         logger,
				})
			},
			Logger: logger,
		}

		manifest, err := run.Run(ctx)
		if err != nil {
			var empty *storage.EmptyIndexError
			if errors.As(err, &empty) {
				log.Fatalf("⚠️  %v", err)
			}
			log.Fatalf("Index build failed: %v", err)
		}

		fmt.Printf("✅ Indexed %d chunks (dim %d, %s) in %v.\n", manifest.ChunkCount, manifest.Dimension, manifest.Metric, time.Since(start).Round(time.Millisecond))
		fmt.Printf("🎉 Build %s published.\n", manifest.BuildID)
	},
}

func init() {
	indexCmd.Flags().BoolVar(&cloneRepo, "clone", false, "Clone project.repo_url into the project root before indexing")
	indexCmd.Flags().StringVar(&indexRoot, "root", "", "Source tree to index (overrides project.root)")
}

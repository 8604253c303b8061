package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"rootcause/internal/retrieval"
)

var (
	searchTopK int
	fullChunks bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Query the index directly and print the nearest chunks",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.ValidateIndex(); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		ctx := context.Background()

		idx := openIndex(ctx, cfg)
		defer idx.Close()

		topK := cfg.Retrieval.TopK
		if searchTopK > 0 {
			topK = searchTopK
		}

		r := retrieval.New(idx, newEmbedder(ctx, cfg), metric(cfg), logger)
		result, err := r.Retrieve(ctx, strings.Join(args, " "), topK)
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}

		fmt.Printf("🔍 %d result(s) from build %s\n", len(result.Matches), result.Manifest.BuildID)
		for _, m := range result.Matches {
			fmt.Printf("\n#%d  %.4f  %s [chunk %d]\n", m.Rank, m.Score, m.Chunk.SourcePath, m.Chunk.Index)
			content := m.Chunk.Content
			if !fullChunks {
				content = preview(content, 240)
			}
			fmt.Println(content)
		}
	},
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Number of chunks to return (overrides retrieval.top_k)")
	searchCmd.Flags().BoolVar(&fullChunks, "full", false, "Print whole chunks instead of a preview")
}

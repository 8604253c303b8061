package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the manifest of the published index",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()

		idx := openIndex(ctx, cfg)
		defer idx.Close()

		m, err := idx.Manifest(ctx)
		if err != nil {
			log.Fatalf("%v", err)
		}

		fmt.Printf("📦 Index:      %s\n", idx.Location())
		fmt.Printf("   Build:      %s\n", m.BuildID)
		fmt.Printf("   Created:    %s\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("   Chunks:     %d\n", m.ChunkCount)
		fmt.Printf("   Dimension:  %d\n", m.Dimension)
		fmt.Printf("   Metric:     %s\n", m.Metric)
		fmt.Printf("   Model:      %s\n", m.EmbeddingModel)
		if m.Revision != "" {
			fmt.Printf("   Revision:   %s\n", m.Revision)
		}
	},
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"rootcause/internal/logs"
	"rootcause/internal/pipeline"
	"rootcause/internal/report"
	"rootcause/internal/retrieval"
)

var (
	namespace     string
	labelSelector string
	logFiles      []string
	analyzeTopK   int
	format        string
	outputPath    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Collect error logs, retrieve the related code and explain the root cause",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if namespace != "" {
			cfg.Cluster.Namespace = namespace
		}
		if labelSelector != "" {
			cfg.Cluster.LabelSelector = labelSelector
		}
		if analyzeTopK > 0 {
			cfg.Retrieval.TopK = analyzeTopK
		}
		if err := cfg.ValidateAnalyze(); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}

		ctx := context.Background()

		var source logs.Source
		if len(logFiles) > 0 {
			source = logs.FileSource{Paths: logFiles}
		} else {
			source = &logs.KubernetesSource{
				Kubeconfig:    cfg.Cluster.Kubeconfig,
				Namespace:     cfg.Cluster.Namespace,
				LabelSelector: cfg.Cluster.LabelSelector,
				Container:     cfg.Cluster.Container,
				TailLines:     cfg.Cluster.TailLines,
				Order:         cfg.Cluster.SourceOrder,
				LogTimeout:    cfg.Cluster.LogTimeout,
				Logger:        logger,
			}
		}

		idx := openIndex(ctx, cfg)
		defer idx.Close()

		analyzer := pipeline.NewAnalyzer(
			source,
			logs.Filter{Keywords: cfg.Logs.Keywords, Count: cfg.Logs.Count},
			retrieval.New(idx, newEmbedder(ctx, cfg), metric(cfg), logger),
			newAnalyst(ctx, cfg),
			pipeline.AnalyzerOptions{
				AppName:         cfg.Project.Name,
				Namespace:       cfg.Cluster.Namespace,
				TopK:            cfg.Retrieval.TopK,
				MaxContextChars: cfg.AI.MaxContextChars,
				Timeout:         cfg.AI.Timeout,
				Logger:          logger,
			},
		)

		rep := analyzer.Run(ctx)

		if outputPath != "" {
			if err := report.Save(outputPath, format, rep); err != nil {
				log.Fatalf("Failed to save report: %v", err)
			}
			fmt.Printf("📝 Report written to %s\n", outputPath)
		} else if err := report.Render(os.Stdout, format, rep); err != nil {
			log.Fatalf("Failed to render report: %v", err)
		}

		if rep.Failed() {
			os.Exit(2)
		}
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to read pod logs from (overrides cluster.namespace)")
	analyzeCmd.Flags().StringVarP(&labelSelector, "selector", "l", "", "Pod label selector")
	analyzeCmd.Flags().StringSliceVar(&logFiles, "log-file", nil, "Read logs from these files instead of the cluster")
	analyzeCmd.Flags().IntVarP(&analyzeTopK, "top-k", "k", 0, "Number of code chunks to retrieve (overrides retrieval.top_k)")
	analyzeCmd.Flags().StringVarP(&format, "format", "f", "text", "Report format: text, markdown, html or json")
	analyzeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to a file instead of stdout")
}

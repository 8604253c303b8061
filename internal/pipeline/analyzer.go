package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rootcause/internal/assembler"
	"rootcause/internal/knowledge"
	"rootcause/internal/logs"
	"rootcause/internal/report"
	"rootcause/internal/retrieval"
)

// ChunkRetriever is the part of retrieval.Retriever the analyzer needs.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) (retrieval.Result, error)
}

type AnalyzerOptions struct {
	AppName   string
	Namespace string
	TopK      int
	// MaxContextChars caps the assembled context; zero disables truncation.
	MaxContextChars int
	// Timeout bounds each embedding and inference call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Analyzer runs one RCA request: collect logs, filter, retrieve, assemble, infer.
type Analyzer struct {
	source    logs.Source
	filter    logs.Filter
	retriever ChunkRetriever
	analyst   knowledge.Analyst
	prompts   *knowledge.PromptBuilder
	opts      AnalyzerOptions
	logger    *slog.Logger
}

func NewAnalyzer(source logs.Source, filter logs.Filter, retriever ChunkRetriever, analyst knowledge.Analyst, opts AnalyzerOptions) *Analyzer {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Analyzer{
		source:    source,
		filter:    filter,
		retriever: retriever,
		analyst:   analyst,
		prompts:   &knowledge.PromptBuilder{},
		opts:      opts,
		logger:    logger,
	}
}

// Run never fails: any error becomes a degraded report carrying the error text.
func (a *Analyzer) Run(ctx context.Context) report.Report {
	rep, err := a.Analyze(ctx)
	if err != nil {
		a.logger.Error("rca request failed", "request_id", rep.RequestID, "error", err)
		rep.ErrorText = err.Error()
		rep.Sources = nil
		rep.RCA = ""
	}
	return rep
}

// Analyze returns the report built so far together with the first error.
func (a *Analyzer) Analyze(ctx context.Context) (report.Report, error) {
	rep := report.Report{
		AppName:     a.opts.AppName,
		Namespace:   a.opts.Namespace,
		RequestID:   uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
	}
	logger := a.logger.With("request_id", rep.RequestID)

	streams, err := a.collectStage(ctx, &rep)
	if err != nil {
		return rep, err
	}

	signal := a.filterStage(&rep, streams)
	rep.ErrorLines = signal.Lines
	if signal.NoErrors {
		rep.NoErrors = true
		logger.Info("no error lines matched; skipping retrieval")
		return rep, nil
	}

	result, err := a.retrieveStage(ctx, &rep, signal)
	if err != nil {
		return rep, err
	}

	assembled := assembler.Assemble(signal, result)
	if a.opts.MaxContextChars > 0 && assembled.Length > a.opts.MaxContextChars {
		before := assembled.ChunkCount
		assembled = assembled.Truncate(a.opts.MaxContextChars)
		logger.Warn("context truncated", "chunks_before", before, "chunks_after", assembled.ChunkCount, "length", assembled.Length)
	}
	rep.Sources = assembled.Sources

	rca, err := a.inferStage(ctx, &rep, assembled)
	if err != nil {
		return rep, err
	}
	rep.RCA = rca
	logger.Info("rca complete", "errors", len(signal.Lines), "sources", len(rep.Sources))
	return rep, nil
}

func (a *Analyzer) collectStage(ctx context.Context, rep *report.Report) ([]logs.Stream, error) {
	h := rep.BeginStage("collect_logs")
	streams, err := a.source.Collect(ctx)
	failed := 0
	for _, s := range streams {
		if s.Err != nil {
			failed++
		}
	}
	rep.EndStage(h, map[string]float64{"sources": float64(len(streams)), "failed_sources": float64(failed)}, err)
	if err != nil {
		return nil, fmt.Errorf("collect logs: %w", err)
	}
	return streams, nil
}

func (a *Analyzer) filterStage(rep *report.Report, streams []logs.Stream) logs.Signal {
	h := rep.BeginStage("filter_logs")
	signal := a.filter.Apply(streams)
	matched := len(signal.Lines)
	if signal.NoErrors {
		matched = 0
	}
	rep.EndStage(h, map[string]float64{"lines": float64(matched)}, nil)
	return signal
}

func (a *Analyzer) retrieveStage(ctx context.Context, rep *report.Report, signal logs.Signal) (retrieval.Result, error) {
	h := rep.BeginStage("retrieve")
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	result, err := a.retriever.Retrieve(ctx, signal.Query(), a.opts.TopK)
	rep.EndStage(h, map[string]float64{"matches": float64(len(result.Matches))}, err)
	if err != nil {
		return retrieval.Result{}, fmt.Errorf("retrieve code: %w", err)
	}
	return result, nil
}

func (a *Analyzer) inferStage(ctx context.Context, rep *report.Report, assembled assembler.Context) (string, error) {
	h := rep.BeginStage("infer")
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	prompt := a.prompts.BuildRCAPrompt(assembled.Errors, assembled.Code())
	rca, err := a.analyst.Analyze(ctx, prompt)
	rep.EndStage(h, map[string]float64{"prompt_chars": float64(len([]rune(prompt)))}, err)
	if err != nil {
		return "", fmt.Errorf("generate rca: %w", err)
	}
	return rca, nil
}

func (a *Analyzer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.Timeout)
}

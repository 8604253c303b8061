package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"rootcause/internal/crawler"
	"rootcause/internal/git"
	"rootcause/internal/index"
	"rootcause/internal/storage"
)

// IndexRun checks out (optionally), crawls and indexes one source tree.
type IndexRun struct {
	Root    string
	RepoURL string
	Clone   bool
	Crawler *crawler.Crawler
	// NewBuilder receives the tree's revision, empty when it is not a git checkout.
	NewBuilder func(revision string) *index.Builder
	Logger     *slog.Logger
}

func (r *IndexRun) Run(ctx context.Context) (storage.Manifest, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if r.Clone {
		if err := r.cloneStage(ctx, logger); err != nil {
			return storage.Manifest{}, err
		}
	}

	revision, err := git.HeadRevision(ctx, r.Root)
	if err != nil {
		logger.Debug("source tree has no git revision", "root", r.Root, "error", err)
		revision = ""
	}

	m, err := r.NewBuilder(revision).BuildFromRoot(ctx, r.Crawler, r.Root)
	if err != nil {
		return storage.Manifest{}, err
	}
	logger.Info("index built", "chunks", m.ChunkCount, "dimension", m.Dimension, "revision", m.Revision)
	return m, nil
}

func (r *IndexRun) cloneStage(ctx context.Context, logger *slog.Logger) error {
	if r.RepoURL == "" {
		return fmt.Errorf("clone requested but project.repo_url is not set")
	}
	logger.Info("cloning repository", "url", r.RepoURL, "dest", r.Root)
	if err := git.Clone(ctx, r.RepoURL, r.Root); err != nil {
		return err
	}
	return nil
}

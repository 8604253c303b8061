package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rootcause/internal/chunker"
	"rootcause/internal/crawler"
	"rootcause/internal/knowledge"
	"rootcause/internal/knowledge/knowledgetest"
	"rootcause/internal/storage"
)

func newBuilder(t *testing.T, emb knowledge.Embedder, pub storage.Publisher, batch int) *Builder {
	t.Helper()
	split, err := chunker.New(chunker.KindWindow, 1000, 200)
	require.NoError(t, err)
	return NewBuilder(split, emb, pub, Options{Metric: knowledge.MetricCosine, EmbeddingModel: "test", BatchSize: batch})
}

func sampleDocs() []knowledge.Document {
	return []knowledge.Document{
		{SourcePath: "src/OwnerController.java", Content: strings.Repeat("owner controller code ", 100)}, // 2200 runes → 3 chunks
		{SourcePath: "Dockerfile", Content: strings.Repeat("x", 500)},                                   // 1 chunk
		{SourcePath: "blank.yml", Content: "   \n\t  "},                                                 // dropped
	}
}

func TestBuild_PublishesEveryChunkInOrder(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(16)
	idx := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"), nil)
	b := newBuilder(t, emb, idx, 2)

	m, err := b.Build(context.Background(), sampleDocs())
	require.NoError(t, err)
	assert.Equal(t, 4, m.ChunkCount)
	assert.Equal(t, 16, m.Dimension)
	assert.Equal(t, knowledge.MetricCosine, m.Metric)
	assert.NotEmpty(t, m.BuildID)

	// batches of two
	calls := emb.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0], 2)

	snap, err := idx.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 4)
	for i, item := range snap.Items {
		assert.Equal(t, i, item.Position)
	}
	assert.Equal(t, "src/OwnerController.java", snap.Items[0].Chunk.SourcePath)
	assert.Equal(t, "Dockerfile", snap.Items[3].Chunk.SourcePath)
}

func TestBuild_Idempotent(t *testing.T) {
	idx := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"), nil)
	b := newBuilder(t, knowledgetest.NewHashEmbedder(8), idx, 64)
	ctx := context.Background()

	_, err := b.Build(ctx, sampleDocs())
	require.NoError(t, err)
	first, err := idx.Load(ctx)
	require.NoError(t, err)

	_, err = b.Build(ctx, sampleDocs())
	require.NoError(t, err)
	second, err := idx.Load(ctx)
	require.NoError(t, err)

	require.Equal(t, len(first.Items), len(second.Items))
	for i := range first.Items {
		assert.Equal(t, first.Items[i].Chunk, second.Items[i].Chunk)
		assert.Equal(t, first.Items[i].Embedding, second.Items[i].Embedding)
	}
	assert.NotEqual(t, first.Manifest.BuildID, second.Manifest.BuildID)
}

func TestBuild_EmptyCorpusKeepsPreviousIndex(t *testing.T) {
	idx := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"), nil)
	emb := knowledgetest.NewHashEmbedder(8)
	b := newBuilder(t, emb, idx, 64)
	ctx := context.Background()

	prev, err := b.Build(ctx, sampleDocs())
	require.NoError(t, err)
	calls := len(emb.Calls())

	_, err = b.Build(ctx, []knowledge.Document{{SourcePath: "empty.py"}, {SourcePath: "ws.py", Content: " \n"}})
	var empty *storage.EmptyIndexError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, 2, empty.Documents)
	assert.Equal(t, calls, len(emb.Calls()), "no embedding calls for an empty corpus")

	m, err := idx.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, prev.BuildID, m.BuildID)
}

func TestBuild_EmbeddingFailurePublishesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx := storage.NewSQLiteIndex(path, nil)
	emb := &knowledgetest.FailingEmbedder{HashEmbedder: knowledgetest.HashEmbedder{Dim: 8}, OkCalls: 1}
	b := newBuilder(t, emb, idx, 1)

	_, err := b.Build(context.Background(), sampleDocs())
	require.Error(t, err)
	assert.True(t, errors.Is(err, knowledgetest.ErrEmbed))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

type shortEmbedder struct{ knowledgetest.HashEmbedder }

func (s *shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := s.HashEmbedder.Embed(ctx, texts)
	if err != nil || len(out) == 0 {
		return out, err
	}
	return out[:len(out)-1], nil
}

func TestBuild_CountMismatchIsServiceError(t *testing.T) {
	idx := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"), nil)
	b := newBuilder(t, &shortEmbedder{knowledgetest.HashEmbedder{Dim: 4}}, idx, 64)

	_, err := b.Build(context.Background(), sampleDocs())
	var svcErr *knowledge.EmbeddingServiceError
	require.ErrorAs(t, err, &svcErr)
}

func TestBuildFromRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "App.java"), []byte("class App {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))

	idx := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"), nil)
	b := newBuilder(t, knowledgetest.NewHashEmbedder(8), idx, 64)
	c := crawler.NewCrawler([]string{".java"}, nil, nil)

	m, err := b.BuildFromRoot(context.Background(), c, root)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ChunkCount)

	emptyRoot := t.TempDir()
	_, err = b.BuildFromRoot(context.Background(), c, emptyRoot)
	var empty *storage.EmptyIndexError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, emptyRoot, empty.Root)
}

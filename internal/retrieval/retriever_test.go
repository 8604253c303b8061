package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rootcause/internal/knowledge"
	"rootcause/internal/knowledge/knowledgetest"
	"rootcause/internal/storage"
)

const dim = 256

func publish(t *testing.T, emb knowledge.Embedder, metric knowledge.Metric, chunks ...knowledge.Chunk) *storage.SQLiteIndex {
	t.Helper()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := emb.Embed(context.Background(), texts)
	require.NoError(t, err)

	items := make([]knowledge.VectorItem, len(chunks))
	for i, c := range chunks {
		items[i] = knowledge.VectorItem{Chunk: c, Embedding: vecs[i], Position: i}
	}
	idx := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, idx.Publish(context.Background(), storage.Snapshot{
		Manifest: storage.Manifest{
			BuildID:    "test",
			Metric:     metric,
			Dimension:  dim,
			ChunkCount: len(items),
			CreatedAt:  time.Now(),
		},
		Items: items,
	}))
	return idx
}

func chunk(path, content string) knowledge.Chunk {
	return knowledge.Chunk{SourcePath: path, Content: content}
}

func TestRetrieve_OwnerControllerEndToEnd(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(dim)
	idx := publish(t, emb, knowledge.MetricCosine,
		chunk("unrelated.py", "def render_chart(data): return plot(data)"),
		chunk("src/main/java/OwnerController.java", "class OwnerController { NullPointerException when owner is null at line 42 }"),
	)

	r := New(idx, emb, knowledge.MetricCosine, nil)
	res, err := r.Retrieve(context.Background(), "NullPointerException at OwnerController.java:42", 1)
	require.NoError(t, err)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, "src/main/java/OwnerController.java", res.Matches[0].Chunk.SourcePath)
	assert.Equal(t, 1, res.Matches[0].Rank)
	assert.Equal(t, []string{"src/main/java/OwnerController.java"}, res.Sources())
}

func TestRetrieve_DeterministicAndMonotonic(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(dim)
	var chunks []knowledge.Chunk
	for i := range 8 {
		chunks = append(chunks, chunk(fmt.Sprintf("f%d.java", i), fmt.Sprintf("error handler %d retry timeout %d", i, i%3)))
	}
	idx := publish(t, emb, knowledge.MetricCosine, chunks...)
	r := New(idx, emb, knowledge.MetricCosine, nil)
	ctx := context.Background()
	query := "ERROR timeout in retry handler"

	first, err := r.Retrieve(ctx, query, 3)
	require.NoError(t, err)
	again, err := r.Retrieve(ctx, query, 3)
	require.NoError(t, err)
	assert.Equal(t, first.Matches, again.Matches)

	for k := 1; k < len(chunks); k++ {
		small, err := r.Retrieve(ctx, query, k)
		require.NoError(t, err)
		big, err := r.Retrieve(ctx, query, k+1)
		require.NoError(t, err)
		assert.Equal(t, small.Matches, big.Matches[:k], "top-%d must prefix top-%d", k, k+1)
		for i := 1; i < len(big.Matches); i++ {
			assert.GreaterOrEqual(t, big.Matches[i-1].Score, big.Matches[i].Score)
		}
	}
}

func TestRetrieve_TiesKeepInsertionOrder(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(dim)
	idx := publish(t, emb, knowledge.MetricCosine,
		chunk("b.java", "same text"),
		chunk("a.java", "same text"),
		chunk("c.java", "same text"),
	)
	res, err := New(idx, emb, knowledge.MetricCosine, nil).Retrieve(context.Background(), "same text", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.java", "a.java"}, res.Sources())
	assert.Equal(t, 0, res.Matches[0].Position)
	assert.Equal(t, 1, res.Matches[1].Position)
}

func TestRetrieve_FewerChunksThanTopK(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(dim)
	idx := publish(t, emb, knowledge.MetricInnerProduct, chunk("only.py", "import os"))

	res, err := New(idx, emb, knowledge.MetricInnerProduct, nil).Retrieve(context.Background(), "Traceback in os", 5)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)
}

func TestRetrieve_Errors(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(dim)
	ctx := context.Background()

	missing := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "none.db"), nil)
	_, err := New(missing, emb, knowledge.MetricCosine, nil).Retrieve(ctx, "ERROR", 3)
	var nf *storage.IndexNotFoundError
	require.ErrorAs(t, err, &nf)

	idx := publish(t, emb, knowledge.MetricCosine, chunk("a.java", "x"))
	_, err = New(idx, emb, knowledge.MetricInnerProduct, nil).Retrieve(ctx, "ERROR", 3)
	var mm *MetricMismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, knowledge.MetricCosine, mm.Index)

	_, err = New(idx, emb, knowledge.MetricCosine, nil).Retrieve(ctx, "ERROR", 0)
	assert.Error(t, err)

	_, err = New(idx, knowledgetest.NewHashEmbedder(8), knowledge.MetricCosine, nil).Retrieve(ctx, "ERROR", 1)
	var svc *knowledge.EmbeddingServiceError
	require.ErrorAs(t, err, &svc)
	assert.Contains(t, err.Error(), "does not match index dimension")
}

// searchingIndex ranks in the backend, like the pgvector index.
type searchingIndex struct {
	*storage.SQLiteIndex
	searched bool
	// changes is how many searches report a republished index before succeeding.
	changes  int
	expected []string
}

func (s *searchingIndex) Search(ctx context.Context, query []float32, expect storage.Manifest, topK int) ([]storage.ScoredItem, error) {
	s.searched = true
	s.expected = append(s.expected, expect.BuildID)
	if s.changes > 0 {
		s.changes--
		return nil, storage.ErrIndexChanged
	}
	metric := expect.Metric
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []storage.ScoredItem
	for _, item := range snap.Items[:min(topK, len(snap.Items))] {
		out = append(out, storage.ScoredItem{Item: item, Score: metric.Score(query, item.Embedding)})
	}
	return out, nil
}

func TestRetrieve_UsesBackendSearcher(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(dim)
	idx := &searchingIndex{SQLiteIndex: publish(t, emb, knowledge.MetricCosine, chunk("a.java", "a"), chunk("b.java", "b"))}

	res, err := New(idx, emb, knowledge.MetricCosine, nil).Retrieve(context.Background(), "ERROR b", 1)
	require.NoError(t, err)
	assert.True(t, idx.searched)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 1, res.Matches[0].Rank)
}

func TestRetrieve_RetriesOnceWhenIndexChanges(t *testing.T) {
	emb := knowledgetest.NewHashEmbedder(dim)
	idx := &searchingIndex{SQLiteIndex: publish(t, emb, knowledge.MetricCosine, chunk("a.java", "a")), changes: 1}

	res, err := New(idx, emb, knowledge.MetricCosine, nil).Retrieve(context.Background(), "ERROR a", 1)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Len(t, idx.expected, 2)
	assert.Equal(t, res.Manifest.BuildID, idx.expected[1])

	idx.changes = 5
	idx.expected = nil
	_, err = New(idx, emb, knowledge.MetricCosine, nil).Retrieve(context.Background(), "ERROR a", 1)
	require.ErrorIs(t, err, storage.ErrIndexChanged)
	assert.Len(t, idx.expected, 2)
}

package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricScore(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	c := []float32{2, 0}

	assert.InDelta(t, 0, MetricCosine.Score(a, b), 1e-6)
	assert.InDelta(t, 1, MetricCosine.Score(a, c), 1e-6)
	assert.InDelta(t, 2, MetricInnerProduct.Score(a, c), 1e-6)
	assert.Equal(t, float32(0), MetricCosine.Score(a, []float32{1}))
	assert.Equal(t, float32(0), MetricCosine.Score(a, []float32{0, 0}))

	m, err := ParseMetric("inner_product")
	require.NoError(t, err)
	assert.Equal(t, MetricInnerProduct, m)
	_, err = ParseMetric("euclid")
	assert.Error(t, err)
}

func TestCheckVectors(t *testing.T) {
	require.NoError(t, CheckVectors("x", [][]float32{{1, 2}, {3, 4}}, 2))

	var svcErr *EmbeddingServiceError
	require.ErrorAs(t, CheckVectors("x", [][]float32{{1}}, 2), &svcErr)
	assert.Contains(t, svcErr.Error(), "count mismatch")
	require.ErrorAs(t, CheckVectors("x", [][]float32{{1}, {}}, 2), &svcErr)
	assert.Contains(t, svcErr.Error(), "missing at index 1")
	require.ErrorAs(t, CheckVectors("x", [][]float32{{1}, {1, 2}}, 2), &svcErr)
	assert.Contains(t, svcErr.Error(), "inconsistent embedding dimension")
}

func TestAzureEmbedder_Embed(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		gotVersion = r.URL.Query().Get("api-version")

		var req azureEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// answer out of order to exercise index mapping
		resp := azureEmbeddingResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, azureEmbeddingItem{Index: i, Embedding: []float32{float32(i), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewAzureEmbedder("key", srv.URL+"/", "embed-deploy", "2023-05-15", 0, time.Second)
	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, "/openai/deployments/embed-deploy/embeddings", gotPath)
	assert.Equal(t, "key", gotKey)
	assert.Equal(t, "2023-05-15", gotVersion)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0, 1}, vecs[0])
	assert.Equal(t, []float32{2, 1}, vecs[2])
	assert.Equal(t, 2, e.Dimension())
}

func TestAzureEmbedder_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer srv.Close()

	e := NewAzureEmbedder("key", srv.URL, "d", "v", 0, time.Second)
	e.retryDelay = time.Millisecond

	vecs, err := e.Embed(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAzureEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	e := NewAzureEmbedder("key", srv.URL, "d", "v", 0, time.Second)
	_, err := e.Embed(context.Background(), []string{"q"})

	var svcErr *EmbeddingServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusUnauthorized, svcErr.StatusCode)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAzureEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	e := NewAzureEmbedder("key", srv.URL, "d", "v", 0, time.Second)
	_, err := e.Embed(context.Background(), []string{"a", "b"})

	var svcErr *EmbeddingServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Contains(t, err.Error(), "count mismatch")
}

func TestAzureEmbedder_ObservedDimensionIsNeverSent(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		if _, ok := body["dimensions"]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"This model does not support specifying dimensions."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	e := NewAzureEmbedder("key", srv.URL, "ada", "2023-05-15", 0, time.Second)
	_, err := e.Embed(context.Background(), []string{"batch one"})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimension())

	_, err = e.Embed(context.Background(), []string{"batch two"})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.NotContains(t, bodies[1], "dimensions")
	assert.Equal(t, 3, e.Dimension())
}

func TestAzureEmbedder_ConfiguredDimensionIsSent(t *testing.T) {
	var got []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req azureEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Dimensions != nil {
			got = append(got, *req.Dimensions)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e := NewAzureEmbedder("key", srv.URL, "d", "v", 2, time.Second)
	for range 2 {
		_, err := e.Embed(context.Background(), []string{"q"})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{2, 2}, got)
}

func TestAzureEmbedder_ResponseWithoutIndexKeepsInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,0]},{"embedding":[0,1]}]}`))
	}))
	defer srv.Close()

	e := NewAzureEmbedder("key", srv.URL, "d", "v", 0, time.Second)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOrderByIndex(t *testing.T) {
	vecs := [][]float32{{1}, {2}, {3}}

	assert.Equal(t, [][]float32{{3}, {1}, {2}}, orderByIndex([]int{1, 2, 0}, vecs))
	assert.Equal(t, vecs, orderByIndex([]int{0, 0, 0}, vecs))
	assert.Equal(t, vecs, orderByIndex([]int{0, 1, 5}, vecs))
}

func TestOpenAIEmbedder_ObservedDimensionIsNeverSent(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","embedding":[1,0,0]}],"model":"m"}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", "text-embedding-ada-002", 0, srv.URL+"/v1")
	for range 2 {
		_, err := e.Embed(context.Background(), []string{"q"})
		require.NoError(t, err)
	}
	require.Len(t, bodies, 2)
	for _, b := range bodies {
		assert.NotContains(t, b, "dimensions")
	}
	assert.Equal(t, 3, e.Dimension())
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1,0,0]},{"object":"embedding","index":1,"embedding":[0,1,0]}],"model":"m"}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", "text-embedding-3-small", 0, srv.URL+"/v1")
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vecs)
	assert.Equal(t, 3, e.Dimension())
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		out := ollamaEmbedResponse{}
		for range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{1, 2, 3, 4})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("nomic-embed-text", 0, srv.URL, time.Second)
	vecs, err := e.Embed(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 4, e.Dimension())
}

func TestOllamaAnalyst_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		_, _ = w.Write([]byte("{\"message\":{\"role\":\"assistant\",\"content\":\"```markdown\\nNull owner id\\n```\"}}"))
	}))
	defer srv.Close()

	a := NewOllamaAnalyst("llama3", srv.URL, time.Second)
	out, err := a.Analyze(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Null owner id", out)
}

func TestOllamaAnalyst_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaAnalyst("llama3", srv.URL, time.Second).Analyze(context.Background(), "p")
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, http.StatusNotFound, infErr.StatusCode)
}

func TestOpenAIAnalyst_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Root cause: missing column"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	a := NewOpenAIAnalyst("sk", "gpt-4o-mini", srv.URL+"/v1")
	out, err := a.Analyze(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Root cause: missing column", out)
}

func TestAzureAnalyst_UsesDeployment(t *testing.T) {
	var gotPath, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	a := NewAzureAnalyst("key", srv.URL+"/", "gpt-deploy", "2024-02-01")
	out, err := a.Analyze(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "/openai/deployments/gpt-deploy/chat/completions", gotPath)
	assert.Equal(t, "2024-02-01", gotVersion)
}

func TestNewEmbedder_Providers(t *testing.T) {
	ctx := context.Background()

	e, err := NewEmbedder(ctx, EmbedderOptions{Provider: "azure", APIKey: "k", BaseURL: "https://x", Model: "d", APIVersion: "v"})
	require.NoError(t, err)
	assert.IsType(t, &AzureEmbedder{}, e)

	e, err = NewEmbedder(ctx, EmbedderOptions{Provider: "OpenAI", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	e, err = NewEmbedder(ctx, EmbedderOptions{Provider: "ollama", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, e)

	_, err = NewEmbedder(ctx, EmbedderOptions{Provider: "faiss"})
	assert.Error(t, err)

	a, err := NewAnalyst(ctx, AnalystOptions{Provider: "ollama", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaAnalyst{}, a)
}

func TestBuildRCAPrompt(t *testing.T) {
	pb := &PromptBuilder{}
	prompt := pb.BuildRCAPrompt(
		[]string{"ERROR NullPointerException in OwnerController", "ERROR retry"},
		"// Source: src/OwnerController.java\nclass OwnerController {}",
	)

	assert.True(t, strings.HasPrefix(prompt, "You are an SRE assistant."))
	assert.Contains(t, prompt, "Errors:\nERROR NullPointerException in OwnerController\nERROR retry\n\nCode:\n// Source: src/OwnerController.java")
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := error(&InferenceError{Provider: "azure", Err: base})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "azure inference failed: boom", err.Error())

	err = &EmbeddingServiceError{Provider: "azure", StatusCode: 500, Err: base}
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "azure embedding service error (500): boom", err.Error())
}

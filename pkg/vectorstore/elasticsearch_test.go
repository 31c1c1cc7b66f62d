package vectorstore

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeES 模拟 Elasticsearch 中本包用到的几个接口。
type fakeES struct {
	mu          sync.Mutex
	indexExists bool
	mapping     map[string]any
	bulkLines   []string
	searchBody  map[string]any
	searchResp  string
	bulkResp    string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/chattopdf":
		if f.indexExists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/chattopdf":
		_ = json.NewDecoder(r.Body).Decode(&f.mapping)
		f.indexExists = true
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				f.bulkLines = append(f.bulkLines, line)
			}
		}
		resp := f.bulkResp
		if resp == "" {
			resp = `{"errors":false,"items":[]}`
		}
		_, _ = io.WriteString(w, resp)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_ = json.NewDecoder(r.Body).Decode(&f.searchBody)
		_, _ = io.WriteString(w, f.searchResp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestElasticsearch(t *testing.T, fake *fakeES, dims int) *Elasticsearch {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	store, err := NewElasticsearch(context.Background(), config.ElasticsearchConfig{
		Addresses: srv.URL,
		IndexName: "chattopdf",
	}, dims, nil)
	require.NoError(t, err)
	return store
}

func TestElasticsearchCreatesIndex(t *testing.T) {
	fake := &fakeES{}
	newTestElasticsearch(t, fake, 1536)

	require.NotNil(t, fake.mapping)
	props := fake.mapping["mappings"].(map[string]any)["properties"].(map[string]any)
	vector := props["vector"].(map[string]any)
	assert.Equal(t, "dense_vector", vector["type"])
	assert.Equal(t, float64(1536), vector["dims"])
	assert.Equal(t, "keyword", props["namespace"].(map[string]any)["type"])
}

func TestElasticsearchSkipsExistingIndex(t *testing.T) {
	fake := &fakeES{indexExists: true}
	newTestElasticsearch(t, fake, 0)
	assert.Nil(t, fake.mapping)
}

func TestElasticsearchUpsert(t *testing.T) {
	fake := &fakeES{}
	store := newTestElasticsearch(t, fake, 0)

	err := store.Upsert(context.Background(), "pdfNamespace", []model.Vector{
		{ID: "doc.pdf-chunk-0", Values: []float32{1, 0}, Metadata: model.VectorMetadata{Text: "first", PDFName: "doc.pdf", PageNumber: 1}},
		{ID: "doc.pdf-chunk-1", Values: []float32{0, 1}, Metadata: model.VectorMetadata{Text: "second", PDFName: "doc.pdf", PageNumber: 2, ChunkIndex: 1}},
	})
	require.NoError(t, err)
	require.Len(t, fake.bulkLines, 4)

	var action map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(fake.bulkLines[0]), &action))
	assert.Equal(t, "pdfNamespace:doc.pdf-chunk-0", action["index"]["_id"])

	var doc model.EsDocument
	require.NoError(t, json.Unmarshal([]byte(fake.bulkLines[3]), &doc))
	assert.Equal(t, "doc.pdf-chunk-1", doc.VectorID)
	assert.Equal(t, "pdfNamespace", doc.Namespace)
	assert.Equal(t, "second", doc.Text)
	assert.Equal(t, 2, doc.PageNumber)
}

func TestElasticsearchUpsertItemFailure(t *testing.T) {
	fake := &fakeES{bulkResp: `{"errors":true,"items":[{"index":{"_id":"ns:x","status":400,"error":{"type":"mapper_parsing_exception","reason":"wrong dims"}}}]}`}
	store := newTestElasticsearch(t, fake, 0)

	err := store.Upsert(context.Background(), "ns", []model.Vector{{ID: "x", Values: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong dims")
}

func TestElasticsearchQuery(t *testing.T) {
	fake := &fakeES{searchResp: `{"hits":{"hits":[
		{"_score":0.93,"_source":{"vector_id":"doc.pdf-chunk-1","namespace":"pdfNamespace","text":"second","pdf_name":"doc.pdf","page_number":2,"chunk_index":1}},
		{"_score":0.71,"_source":{"vector_id":"doc.pdf-chunk-0","namespace":"pdfNamespace","text":"first","pdf_name":"doc.pdf","page_number":1,"chunk_index":0}}
	]}}`}
	store := newTestElasticsearch(t, fake, 0)

	matches, err := store.Query(context.Background(), "pdfNamespace", []float32{0.2, 0.8}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc.pdf-chunk-1", matches[0].ID)
	assert.Equal(t, "second", matches[0].Metadata.Text)
	assert.Equal(t, "first", matches[1].Metadata.Text)

	knn := fake.searchBody["knn"].(map[string]any)
	assert.Equal(t, float64(3), knn["k"])
	filter := knn["filter"].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "pdfNamespace", filter["namespace"])
}

package vectorstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Elasticsearch 使用 dense_vector 字段和 kNN 查询实现向量库。
type Elasticsearch struct {
	client    *elasticsearch.Client
	indexName string
}

// NewElasticsearch 创建客户端并确保索引存在。dims 为 0 时由 Elasticsearch 根据首个文档推断维度。
// transport 为空时使用默认传输层，仅在 cfg.Insecure 为 true 时跳过证书校验。
func NewElasticsearch(ctx context.Context, esCfg config.ElasticsearchConfig, dims int, transport http.RoundTripper) (*Elasticsearch, error) {
	if transport == nil && esCfg.Insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	cfg := elasticsearch.Config{
		Addresses: splitAddresses(esCfg.Addresses),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: transport,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	s := &Elasticsearch{client: client, indexName: esCfg.IndexName}
	if err := s.createIndexIfNotExists(ctx, dims); err != nil {
		return nil, err
	}
	return s, nil
}

func splitAddresses(addresses string) []string {
	var out []string
	for _, a := range strings.Split(addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (s *Elasticsearch) createIndexIfNotExists(ctx context.Context, dims int) error {
	res, err := s.client.Indices.Exists([]string{s.indexName}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[Elasticsearch] 检查索引是否存在时出错: %v", err)
		return fmt.Errorf("failed to check index %s: %w", s.indexName, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("[Elasticsearch] 索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("[Elasticsearch] 检查索引 '%s' 是否存在时收到意外的状态码: %d", s.indexName, res.StatusCode)
		return fmt.Errorf("unexpected status checking index %s: %d", s.indexName, res.StatusCode)
	}

	vectorField := map[string]any{
		"type":       "dense_vector",
		"index":      true,
		"similarity": "cosine",
	}
	if dims > 0 {
		vectorField["dims"] = dims
	}
	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"vector_id":   map[string]any{"type": "keyword"},
				"namespace":   map[string]any{"type": "keyword"},
				"text":        map[string]any{"type": "text"},
				"pdf_name":    map[string]any{"type": "keyword"},
				"page_number": map[string]any{"type": "integer"},
				"chunk_index": map[string]any{"type": "integer"},
				"vector":      vectorField,
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to encode index mapping: %w", err)
	}

	res, err = s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		log.Errorf("[Elasticsearch] 创建索引 '%s' 失败: %v", s.indexName, err)
		return fmt.Errorf("failed to create index %s: %w", s.indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[Elasticsearch] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, res.String())
		return errors.New("elasticsearch returned an error while creating index")
	}

	log.Infof("[Elasticsearch] 索引 '%s' 创建成功", s.indexName)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 通过 bulk 接口写入一批向量，相同 _id 的文档会被覆盖。
func (s *Elasticsearch) Upsert(ctx context.Context, namespace string, vectors []model.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, v := range vectors {
		action := map[string]any{"index": map[string]any{"_index": s.indexName, "_id": namespace + ":" + v.ID}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := enc.Encode(model.NewEsDocument(namespace, v)); err != nil {
			return fmt.Errorf("failed to encode document %s: %w", v.ID, err)
		}
	}

	req := esapi.BulkRequest{
		Index:   s.indexName,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		log.Errorf("[Elasticsearch] bulk 写入返回错误, status: %s, body: %s", res.Status(), string(msg))
		return fmt.Errorf("elasticsearch bulk returned an error: %s", res.Status())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, r := range item {
				if r.Status >= 300 {
					return fmt.Errorf("bulk item %s failed: %s: %s", r.ID, r.Error.Type, r.Error.Reason)
				}
			}
		}
		return errors.New("elasticsearch bulk reported errors")
	}
	return nil
}

// Query 在命名空间内执行 kNN 查询。
func (s *Elasticsearch) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]model.Match, error) {
	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	esQuery := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
			"filter": map[string]any{
				"term": map[string]any{"namespace": namespace},
			},
		},
		"_source": []string{"vector_id", "namespace", "text", "pdf_name", "page_number", "chunk_index"},
		"size":    topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[Elasticsearch] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		log.Errorf("[Elasticsearch] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(msg))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsDocument `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	matches := make([]model.Match, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, model.Match{
			ID:       hit.Source.VectorID,
			Score:    hit.Score,
			Metadata: hit.Source.Metadata(),
		})
	}
	return matches, nil
}

// Package vectorstore 封装了向量库的写入与相似度查询，支持 Pinecone、Elasticsearch 和内嵌的 chromem。
package vectorstore

import (
	"context"
	"fmt"
	"net/http"

	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/log"
)

// DefaultBatchSize 是单次 Upsert 允许的最大向量数。
const DefaultBatchSize = 100

// Store 是向量库的最小接口。同一命名空间内按 ID 覆盖写入；Query 总是返回元数据。
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []model.Vector) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]model.Match, error)
}

// UpsertInBatches 按原有顺序把 vectors 切分为不超过 batchSize 的批次依次写入，返回写入的批次数。
// 任一批次失败即停止，之前已写入的批次不会回滚。
func UpsertInBatches(ctx context.Context, store Store, namespace string, vectors []model.Vector, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batches := 0
	for start := 0; start < len(vectors); start += batchSize {
		end := start + batchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := store.Upsert(ctx, namespace, vectors[start:end]); err != nil {
			return batches, fmt.Errorf("upsert batch %d (vectors %d-%d): %w", batches, start, end-1, err)
		}
		batches++
		log.Debugf("[VectorStore] 第 %d 批写入完成, namespace: %s, size: %d", batches, namespace, end-start)
	}
	return batches, nil
}

// New 根据 provider 创建向量库实现。dims 仅在 Elasticsearch 建索引时使用。
func New(ctx context.Context, cfg config.VectorStoreConfig, dims int) (Store, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	var (
		store Store
		err   error
	)
	switch cfg.Provider {
	case "pinecone":
		store, err = NewPinecone(ctx, cfg.Pinecone, httpClient)
	case "elasticsearch":
		store, err = NewElasticsearch(ctx, cfg.Elasticsearch, dims, nil)
	case "chromem":
		store, err = NewChromem(cfg.Chromem)
	default:
		return nil, fmt.Errorf("unknown vector store provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/log"

	"github.com/philippgille/chromem-go"
)

// Chromem 是进程内的向量库，每个命名空间对应一个 collection。
// 配置了 Path 时数据持久化到磁盘，否则只保存在内存中。
type Chromem struct {
	db *chromem.DB
}

// NewChromem 根据配置创建内存或持久化的 chromem 数据库。
func NewChromem(cfg config.ChromemConfig) (*Chromem, error) {
	if cfg.Path == "" {
		return &Chromem{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem db at %s: %w", cfg.Path, err)
	}
	log.Infof("[Chromem] 已打开持久化向量库: %s", cfg.Path)
	return &Chromem{db: db}, nil
}

func (c *Chromem) collection(namespace string) (*chromem.Collection, error) {
	// 向量总是由调用方提供，collection 不需要 embedding 函数
	col, err := c.db.GetOrCreateCollection(namespace, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", namespace, err)
	}
	return col, nil
}

// Upsert 写入一批向量；chromem 按 ID 覆盖已有文档。
func (c *Chromem) Upsert(ctx context.Context, namespace string, vectors []model.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	col, err := c.collection(namespace)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(vectors))
	for _, v := range vectors {
		docs = append(docs, chromem.Document{
			ID:        v.ID,
			Content:   v.Metadata.Text,
			Embedding: v.Values,
			Metadata: map[string]string{
				"pdfName":    v.Metadata.PDFName,
				"pageNumber": strconv.Itoa(v.Metadata.PageNumber),
				"chunkIndex": strconv.Itoa(v.Metadata.ChunkIndex),
			},
		})
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to %s: %w", namespace, err)
	}
	return nil
}

// Query 返回按相似度降序排列的最多 topK 条结果；collection 为空时返回空结果。
func (c *Chromem) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]model.Match, error) {
	col, err := c.collection(namespace)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 || topK <= 0 {
		return []model.Match{}, nil
	}
	if topK > n {
		topK = n
	}
	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query on %s failed: %w", namespace, err)
	}

	matches := make([]model.Match, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.Metadata["pageNumber"])
		chunk, _ := strconv.Atoi(r.Metadata["chunkIndex"])
		matches = append(matches, model.Match{
			ID:    r.ID,
			Score: float64(r.Similarity),
			Metadata: model.VectorMetadata{
				Text:       r.Content,
				PDFName:    r.Metadata["pdfName"],
				PageNumber: page,
				ChunkIndex: chunk,
			},
		})
	}
	return matches, nil
}

// Package pipeline 定义了 PDF 入库的核心流程：解析、切分、向量化、写入向量库。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat-pdf-go/internal/apperr"
	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/embedding"
	"chat-pdf-go/pkg/log"
	"chat-pdf-go/pkg/vectorstore"

	"golang.org/x/sync/errgroup"
)

// 返回给上传接口调用方的错误信息
const (
	MsgNoFiles     = "No files provided"
	MsgOnlyPDF     = "Only PDF files are allowed."
	msgNoEmbedding = "No embeddings found for file: %s"
	msgParseFailed = "Failed to parse PDF file: %s"
)

// Extractor 把一个 PDF 文件解析为逐页文本。pkg/pdf 与 pkg/tika 都实现了该接口。
type Extractor interface {
	ExtractPages(ctx context.Context, name string, content []byte) ([]model.Page, error)
}

// Ingestor 定义了入库操作的接口。
type Ingestor interface {
	Ingest(ctx context.Context, docs []model.Document) (*model.IngestResult, error)
}

type ingestor struct {
	extractor Extractor
	embedder  embedding.Client
	store     vectorstore.Store
	chunker   *Chunker
	cfg       config.IngestionConfig
	namespace string
}

// NewIngestor 创建一个新的 Ingestor 实例。
func NewIngestor(
	extractor Extractor,
	embedder embedding.Client,
	store vectorstore.Store,
	cfg config.IngestionConfig,
	namespace string,
) Ingestor {
	return &ingestor{
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		chunker:   NewChunker(cfg),
		cfg:       cfg,
		namespace: namespace,
	}
}

// Ingest 是入库的主函数。
// 所有文件先完成校验与解析，任何输入错误都发生在第一次写入之前；随后逐个文件向量化并分批写入。
func (p *ingestor) Ingest(ctx context.Context, docs []model.Document) (*model.IngestResult, error) {
	const op = "ingest"
	if len(docs) == 0 {
		return nil, apperr.Validation(op, MsgNoFiles)
	}
	for _, doc := range docs {
		if !IsPDF(doc.Name) {
			log.Warnf("[Ingestor] 拒绝非 PDF 文件: %s", doc.Name)
			return nil, apperr.Validation(op, MsgOnlyPDF)
		}
	}

	// 1. 解析全部文件
	log.Infof("[Ingestor] 步骤1: 开始解析 %d 个文件", len(docs))
	allPages := make([][]model.Page, len(docs))
	for i, doc := range docs {
		pages, err := p.extractor.ExtractPages(ctx, doc.Name, doc.Content)
		if err != nil {
			log.Errorf("[Ingestor] 解析文件失败, FileName: %s, Error: %v", doc.Name, err)
			var ae *apperr.Error
			if errors.As(err, &ae) || ctx.Err() != nil {
				return nil, err
			}
			return nil, &apperr.Error{
				Kind:    apperr.KindValidation,
				Op:      op,
				File:    doc.Name,
				Message: fmt.Sprintf(msgParseFailed, doc.Name),
				Err:     err,
			}
		}
		allPages[i] = pages
	}

	// 2. 逐个文件切分、向量化、写入
	result := &model.IngestResult{Embeddings: []model.EmbeddingRecord{}}
	for i, doc := range docs {
		records, err := p.ingestFile(ctx, doc.Name, allPages[i])
		if err != nil {
			return nil, err
		}
		result.Embeddings = append(result.Embeddings, records...)
		result.VectorCount += len(records)
		result.Files = append(result.Files, model.FileSummary{
			Name:        doc.Name,
			Pages:       len(allPages[i]),
			VectorCount: len(records),
		})
	}
	log.Infof("[Ingestor] 入库完成, 文件数: %d, 向量数: %d", len(docs), result.VectorCount)
	return result, nil
}

func (p *ingestor) ingestFile(ctx context.Context, name string, pages []model.Page) ([]model.EmbeddingRecord, error) {
	units, err := p.chunker.Split(name, pages)
	if err != nil {
		return nil, apperr.Upstream("split", name, err)
	}
	log.Infof("[Ingestor] 文件 %s 切分完成, 页数: %d, 单元数: %d, 粒度: %s", name, len(pages), len(units), p.chunker.granularity)

	vecs, err := p.embedUnits(ctx, units)
	if err != nil {
		log.Errorf("[Ingestor] 文件 %s 向量化失败: %v", name, err)
		return nil, apperr.Upstream("embed", name, err)
	}
	if len(vecs) == 0 {
		log.Warnf("[Ingestor] 文件 %s 没有产生任何向量", name)
		return nil, apperr.NotFound("embed", name, fmt.Sprintf(msgNoEmbedding, name))
	}

	records := make([]model.EmbeddingRecord, len(units))
	vectors := make([]model.Vector, len(units))
	for i, unit := range units {
		records[i] = model.EmbeddingRecord{
			Embedding:    vecs[i],
			Chunk:        unit.Text,
			DocumentName: name,
			Index:        i,
			PageNumber:   unit.PageNumber,
		}
		vectors[i] = model.Vector{
			ID:     model.VectorID(name, i),
			Values: vecs[i],
			Metadata: model.VectorMetadata{
				Text:       unit.Text,
				PDFName:    name,
				PageNumber: unit.PageNumber,
				ChunkIndex: i,
			},
		}
	}

	batches, err := vectorstore.UpsertInBatches(ctx, p.store, p.namespace, vectors, p.cfg.UpsertBatchSize)
	if err != nil {
		log.Errorf("[Ingestor] 文件 %s 写入向量库失败, 已完成批次: %d, Error: %v", name, batches, err)
		return nil, apperr.Upstream("upsert", name, err)
	}
	log.Infof("[Ingestor] 文件 %s 写入完成, 向量数: %d, 批次数: %d", name, len(vectors), batches)
	return records, nil
}

// embedUnits 并发向量化所有单元，结果与 units 顺序一致；任一失败会取消其余请求。
func (p *ingestor) embedUnits(ctx context.Context, units []model.Chunk) ([][]float32, error) {
	if len(units) == 0 {
		return nil, nil
	}
	limit := p.cfg.EmbedConcurrency
	if limit <= 0 {
		limit = 1
	}

	vecs := make([][]float32, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, unit := range units {
		g.Go(func() error {
			vec, err := p.embedder.CreateEmbedding(gctx, unit.Text)
			if err != nil {
				return fmt.Errorf("embed unit %d (page %d): %w", i, unit.PageNumber, err)
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// IsPDF 按扩展名（不区分大小写）判断是否为 PDF 文件。
func IsPDF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// Package bootstrap 根据配置组装各个客户端与服务，供 HTTP 服务和命令行工具共用。
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/internal/pipeline"
	"chat-pdf-go/internal/service"
	"chat-pdf-go/pkg/embedding"
	"chat-pdf-go/pkg/llm"
	"chat-pdf-go/pkg/log"
	"chat-pdf-go/pkg/pdf"
	"chat-pdf-go/pkg/tika"
	"chat-pdf-go/pkg/vectorstore"
)

// App 持有组装好的业务组件。入库与问答共用同一个 embedding 客户端和向量库。
type App struct {
	Ingestor pipeline.Ingestor
	Chat     service.ChatService
}

// New 创建所有客户端并注入到服务中。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	store, err := vectorstore.New(ctx, cfg.VectorStore, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("初始化向量库失败: %w", err)
	}
	log.Infof("[Bootstrap] 向量库初始化成功, provider: %s, namespace: %s", cfg.VectorStore.Provider, cfg.VectorStore.Namespace)

	return &App{
		Ingestor: pipeline.NewIngestor(NewExtractor(cfg), embeddingClient, store, cfg.Ingestion, cfg.VectorStore.Namespace),
		Chat:     service.NewChatService(embeddingClient, store, llmClient, cfg.VectorStore.Namespace, cfg.Retrieval, cfg.LLM),
	}, nil
}

// NewExtractor 根据 ingestion.extractor 选择 PDF 解析实现。
func NewExtractor(cfg *config.Config) pipeline.Extractor {
	if cfg.Ingestion.Extractor == "tika" {
		return tika.NewClient(cfg.Tika)
	}
	return pdf.NewParser()
}

// LoadDocuments 从磁盘读取文件，文件名取路径的最后一段。
func LoadDocuments(paths []string) ([]model.Document, error) {
	return readDocuments(paths, filepath.Base)
}

// readDocuments 读取文件并用 name 生成文档名。文档名决定向量 ID，重名的文件会互相覆盖，因此记录告警。
func readDocuments(paths []string, name func(path string) string) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("读取文件 %s 失败: %w", p, err)
		}
		docName := name(p)
		if prev, ok := seen[docName]; ok {
			log.Warnf("[Bootstrap] 文件 %s 与 %s 的文档名同为 %s, 向量将被覆盖", p, prev, docName)
		}
		seen[docName] = p
		docs = append(docs, model.Document{Name: docName, Content: content})
	}
	return docs, nil
}

// SeedFromDir 将目录下（含子目录）的所有 PDF 文件入库。非 PDF 文件被跳过；目录不存在时直接返回。
// 文档名取相对于 dir 的路径（以 / 分隔），不同子目录下的同名文件不会冲突。
func SeedFromDir(ctx context.Context, dir string, ingestor pipeline.Ingestor) (*model.IngestResult, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("[Bootstrap] 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return nil, nil
	}

	var paths []string
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !pipeline.IsPDF(d.Name()) {
			log.Debugf("[Bootstrap] 跳过非 PDF 文件: %s", path)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("遍历目录 %s 失败: %w", dir, walkErr)
	}
	if len(paths) == 0 {
		log.Infof("[Bootstrap] 目录 '%s' 中没有 PDF 文件", dir)
		return nil, nil
	}
	sort.Strings(paths)

	docs, err := readDocuments(paths, func(path string) string {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return filepath.Base(path)
		}
		return filepath.ToSlash(rel)
	})
	if err != nil {
		return nil, err
	}
	res, err := ingestor.Ingest(ctx, docs)
	if err != nil {
		return nil, err
	}
	log.Infof("[Bootstrap] 初始化导入完成, 文件数: %d, 向量数: %d", len(docs), res.VectorCount)
	return res, nil
}

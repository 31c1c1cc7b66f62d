package pipeline

import (
	"fmt"
	"strings"

	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"

	"github.com/tmc/langchaingo/textsplitter"
)

// 嵌入单元的粒度
const (
	// GranularityChunk 每个分块单独向量化。
	GranularityChunk = "chunk"
	// GranularityPage 同一页的分块以空格重新拼接为一个单元。
	GranularityPage = "page"
)

// Chunker 把逐页文本切分为嵌入单元，分块不会跨页。
type Chunker struct {
	splitter    textsplitter.RecursiveCharacter
	granularity string
}

// NewChunker 根据入库配置创建 Chunker。
func NewChunker(cfg config.IngestionConfig) *Chunker {
	granularity := cfg.Granularity
	if granularity == "" {
		granularity = GranularityChunk
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		granularity: granularity,
	}
}

// Split 返回按页序排列的嵌入单元，空白单元会被跳过。
func (c *Chunker) Split(documentName string, pages []model.Page) ([]model.Chunk, error) {
	var units []model.Chunk
	for _, page := range pages {
		pieces, err := c.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("split page %d of %s: %w", page.Number, documentName, err)
		}
		if c.granularity == GranularityPage {
			pieces = []string{strings.Join(pieces, " ")}
		}
		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			units = append(units, model.Chunk{
				Text:         piece,
				PageNumber:   page.Number,
				DocumentName: documentName,
			})
		}
	}
	return units, nil
}

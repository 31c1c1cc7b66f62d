package vectorstore

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/log"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// pineconeIndex 是 *pinecone.IndexConnection 中用到的部分，一个连接绑定一个命名空间。
type pineconeIndex interface {
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
}

// Pinecone 通过官方 SDK 访问一个 Pinecone 索引，按命名空间缓存数据面连接。
type Pinecone struct {
	connect func(namespace string) (pineconeIndex, error)

	mu    sync.Mutex
	conns map[string]pineconeIndex
}

// NewPinecone 创建 Pinecone 客户端。未配置 host 时通过 DescribeIndex 按索引名查询数据面地址。
func NewPinecone(ctx context.Context, cfg config.PineconeConfig, httpClient *http.Client) (*Pinecone, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	if cfg.Host == "" && cfg.Index == "" {
		return nil, fmt.Errorf("pinecone host or index name is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey, RestClient: httpClient})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	host := cfg.Host
	if host == "" {
		idx, err := client.DescribeIndex(ctx, cfg.Index)
		if err != nil {
			return nil, fmt.Errorf("failed to describe pinecone index %q: %w", cfg.Index, err)
		}
		host = idx.Host
		log.Infof("[Pinecone] 索引 %s 的数据面地址: %s", cfg.Index, host)
	}

	return newPinecone(func(namespace string) (pineconeIndex, error) {
		conn, err := client.Index(pinecone.NewIndexConnParams{Host: host, Namespace: namespace})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}), nil
}

func newPinecone(connect func(namespace string) (pineconeIndex, error)) *Pinecone {
	return &Pinecone{connect: connect, conns: make(map[string]pineconeIndex)}
}

func (p *Pinecone) index(namespace string) (pineconeIndex, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[namespace]; ok {
		return conn, nil
	}
	conn, err := p.connect(namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone namespace %s: %w", namespace, err)
	}
	p.conns[namespace] = conn
	return conn, nil
}

// Upsert 写入一批向量。
func (p *Pinecone) Upsert(ctx context.Context, namespace string, vectors []model.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	conn, err := p.index(namespace)
	if err != nil {
		return err
	}

	in := make([]*pinecone.Vector, 0, len(vectors))
	for _, v := range vectors {
		md, err := structpb.NewStruct(map[string]any{
			"text":       v.Metadata.Text,
			"pdfName":    v.Metadata.PDFName,
			"pageNumber": v.Metadata.PageNumber,
			"chunkIndex": v.Metadata.ChunkIndex,
		})
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", v.ID, err)
		}
		values := v.Values
		in = append(in, &pinecone.Vector{Id: v.ID, Values: &values, Metadata: md})
	}

	count, err := conn.UpsertVectors(ctx, in)
	if err != nil {
		return fmt.Errorf("pinecone upsert failed: %w", err)
	}
	log.Debugf("[Pinecone] upsert 完成, namespace: %s, upserted: %d", namespace, count)
	return nil
}

// Query 返回与 vector 最相似的 topK 条记录，顺序由 Pinecone 决定。
func (p *Pinecone) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]model.Match, error) {
	if topK <= 0 {
		return []model.Match{}, nil
	}
	conn, err := p.index(namespace)
	if err != nil {
		return nil, err
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone query failed: %w", err)
	}

	matches := make([]model.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		matches = append(matches, model.Match{
			ID:       m.Vector.Id,
			Score:    float64(m.Score),
			Metadata: decodePineconeMetadata(m.Vector.Metadata),
		})
	}
	return matches, nil
}

// Pinecone 的数值型元数据都以 float64 返回。
func decodePineconeMetadata(md *pinecone.Metadata) model.VectorMetadata {
	fields := md.GetFields()
	return model.VectorMetadata{
		Text:       fields["text"].GetStringValue(),
		PDFName:    fields["pdfName"].GetStringValue(),
		PageNumber: int(fields["pageNumber"].GetNumberValue()),
		ChunkIndex: int(fields["chunkIndex"].GetNumberValue()),
	}
}

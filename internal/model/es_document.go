package model

// EsDocument 是向量在 Elasticsearch 中的存储结构。
// 同一索引内通过 Namespace 字段隔离不同命名空间，文档 _id 为 "<namespace>:<vector_id>"。
type EsDocument struct {
	VectorID   string    `json:"vector_id"`
	Namespace  string    `json:"namespace"`
	Text       string    `json:"text"`
	PDFName    string    `json:"pdf_name"`
	PageNumber int       `json:"page_number"`
	ChunkIndex int       `json:"chunk_index"`
	Vector     []float32 `json:"vector,omitempty"`
}

// NewEsDocument 将一条向量转换为 Elasticsearch 文档。
func NewEsDocument(namespace string, v Vector) EsDocument {
	return EsDocument{
		VectorID:   v.ID,
		Namespace:  namespace,
		Text:       v.Metadata.Text,
		PDFName:    v.Metadata.PDFName,
		PageNumber: v.Metadata.PageNumber,
		ChunkIndex: v.Metadata.ChunkIndex,
		Vector:     v.Values,
	}
}

// Metadata 返回文档对应的向量元数据。
func (d EsDocument) Metadata() VectorMetadata {
	return VectorMetadata{
		Text:       d.Text,
		PDFName:    d.PDFName,
		PageNumber: d.PageNumber,
		ChunkIndex: d.ChunkIndex,
	}
}

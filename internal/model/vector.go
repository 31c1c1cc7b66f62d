package model

// VectorMetadata 是与向量一起存储的元数据，查询时随匹配结果返回。
type VectorMetadata struct {
	Text       string `json:"text"`
	PDFName    string `json:"pdfName"`
	PageNumber int    `json:"pageNumber"`
	ChunkIndex int    `json:"chunkIndex"`
}

// Vector 是向量库中的一条记录，ID 在同一命名空间内唯一，按 ID 覆盖写入。
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata VectorMetadata `json:"metadata"`
}

// Match 是一次相似度查询返回的单条结果，顺序由向量库决定。
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata VectorMetadata `json:"metadata"`
}

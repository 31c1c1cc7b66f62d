package model

import "fmt"

// Document 代表一次上传中的单个 PDF 文件，仅在一次入库请求内存在。
type Document struct {
	Name    string
	Content []byte
}

// Page 是解析器从 PDF 中提取出的一页文本，Number 从 1 开始。
type Page struct {
	Number int
	Text   string
}

// Chunk 是同一页内按长度与重叠切分出的一段文本。
type Chunk struct {
	Text         string
	PageNumber   int
	DocumentName string
}

// EmbeddingRecord 是一个分块的向量表示，会原样回显给上传接口的调用方。
type EmbeddingRecord struct {
	Embedding    []float32 `json:"embedding"`
	Chunk        string    `json:"chunk"`
	DocumentName string    `json:"pdfName"`
	Index        int       `json:"index"`
	PageNumber   int       `json:"pageNumber"`
}

// VectorID 返回文档第 index 个分块在向量库中的标识。
func VectorID(documentName string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentName, index)
}

// FileSummary 汇总单个文件的入库结果。
type FileSummary struct {
	Name        string `json:"name"`
	Pages       int    `json:"pages"`
	VectorCount int    `json:"vectorCount"`
}

// IngestResult 是一次入库请求的结果。
type IngestResult struct {
	VectorCount int               `json:"vectorCount"`
	Embeddings  []EmbeddingRecord `json:"embeddings"`
	Files       []FileSummary     `json:"files"`
}

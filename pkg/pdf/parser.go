// Package pdf 使用 ledongthuc/pdf 在进程内按页提取 PDF 文本。
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/log"

	"github.com/ledongthuc/pdf"
)

// Parser 是基于 ledongthuc/pdf 的文本提取器。
type Parser struct{}

// NewParser 创建一个新的 Parser 实例。
func NewParser() *Parser {
	return &Parser{}
}

// ExtractPages 将 PDF 内容解析为逐页文本，页码从 1 开始。
// 无法解析的内容返回错误；库内部对畸形文件的 panic 也会被转换为错误。
func (p *Parser) ExtractPages(ctx context.Context, name string, content []byte) (pages []model.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse PDF %s: %v", name, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF %s: %w", name, err)
	}

	numPages := r.NumPage()
	pages = make([]model.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", i, name, err)
		}
		pages = append(pages, model.Page{Number: i, Text: strings.TrimSpace(text)})
	}
	log.Debugf("[PDFParser] 文件 %s 解析完成, 共 %d 页", name, len(pages))
	return pages, nil
}

// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"chat-pdf-go/internal/apperr"
	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/log"

	"github.com/PuerkitoBio/goquery"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ExtractPages 调用 Tika 将文件转换为 XHTML，并按 div.page 拆分为逐页文本。
// Tika 对 PDF 的输出中每一页对应一个 <div class="page">；没有分页信息时改为请求纯文本，整份文档视为第 1 页。
func (c *Client) ExtractPages(ctx context.Context, name string, content []byte) ([]model.Page, error) {
	body, err := c.put(ctx, name, content, "text/html")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("解析 Tika 响应失败: %w", err)
	}

	var pages []model.Page
	doc.Find("div.page").Each(func(i int, s *goquery.Selection) {
		pages = append(pages, model.Page{Number: i + 1, Text: pageText(s)})
	})
	if len(pages) == 0 {
		log.Debugf("[TikaClient] 文件 %s 的 XHTML 中没有分页信息, 改用纯文本", name)
		text, err := c.extractText(ctx, name, content)
		if err != nil {
			return nil, err
		}
		pages = append(pages, model.Page{Number: 1, Text: strings.TrimSpace(text)})
	}
	log.Debugf("[TikaClient] 文件 %s 解析完成, 共 %d 页", name, len(pages))
	return pages, nil
}

// extractText 调用 Tika 提取整份文件的纯文本。
func (c *Client) extractText(ctx context.Context, name string, content []byte) (string, error) {
	body, err := c.put(ctx, name, content, "text/plain")
	if err != nil {
		return "", err
	}
	defer body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, body); err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	return buf.String(), nil
}

func (c *Client) put(ctx context.Context, name string, content []byte, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", detectMimeType(name))

	// 连接失败和 5xx 属于上游故障；其余非 200 状态说明文件本身无法解析
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Upstream("tika", name, fmt.Errorf("调用 Tika 失败: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(msg))
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, apperr.Upstream("tika", name, err)
		}
		return nil, err
	}
	return resp.Body, nil
}

// pageText 按段落拼接文本，段落之间以换行分隔。
func pageText(s *goquery.Selection) string {
	var parts []string
	paragraphs := s.Find("p")
	if paragraphs.Length() == 0 {
		return strings.TrimSpace(s.Text())
	}
	paragraphs.Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}

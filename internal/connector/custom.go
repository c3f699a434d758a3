package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"rag-connect-go/internal/chunker"
	"rag-connect-go/internal/model"
	"rag-connect-go/pkg/log"
	"rag-connect-go/pkg/tika"
)

const (
	// minCustomContentLen 低于此长度的内容信号太弱，不值得索引。
	minCustomContentLen = 20
	// fetchUserAgent 抓取网页时使用的标识。
	fetchUserAgent = "Mozilla/5.0 (compatible; RAGConnectBot/1.0)"
	// maxFetchBytes 限制单个 URL 响应体的读取大小。
	maxFetchBytes = 10 << 20
)

var whitespaceRe = regexp.MustCompile(`\s{2,}`)

// CustomSource 是 url / manual 两类数据源的适配器。
// url：抓取网页并提取正文；manual：直接使用配置中的文本。
type CustomSource struct {
	client *http.Client
	// tikaClient 用于从非 HTML、非纯文本的响应体（如 PDF）中提取文本，可为 nil。
	tikaClient *tika.Client
}

// NewCustomSource 创建一个 custom 适配器。tikaClient 可为 nil。
func NewCustomSource(tikaClient *tika.Client) *CustomSource {
	return &CustomSource{client: &http.Client{}, tikaClient: tikaClient}
}

// FetchChunks 实现 Source 接口。
// url 类型要求配置 url；manual 类型要求配置 text。
func (s *CustomSource) FetchChunks(ctx context.Context, conn *model.Connector) ([]Chunk, error) {
	var rawText, sourceURL string

	switch conn.SourceType {
	case model.SourceTypeURL:
		if err := conn.RequireConfig("url"); err != nil {
			return nil, err
		}
		sourceURL = conn.ConfigValue("url")
		text, err := s.fetchURL(ctx, sourceURL)
		if err != nil {
			return nil, err
		}
		rawText = text
	case model.SourceTypeManual:
		if err := conn.RequireConfig("text"); err != nil {
			return nil, err
		}
		rawText = conn.ConfigValue("text")
	default:
		return nil, fmt.Errorf("custom 适配器不支持数据源类型: %s", conn.SourceType)
	}

	if len(strings.TrimSpace(rawText)) < minCustomContentLen {
		return nil, fmt.Errorf("获取的内容过短（不足 %d 字符），无法索引", minCustomContentLen)
	}

	// 含 ##/### 标题的内容按结构化策略切分。
	structured := strings.Contains(rawText, "\n## ") || strings.Contains(rawText, "\n### ")
	parts := chunker.Split(rawText, structured)

	chunks := make([]Chunk, 0, len(parts))
	for idx, part := range parts {
		chunks = append(chunks, Chunk{
			Content: part,
			Metadata: model.ChunkMetadata{
				SourceType:    conn.SourceType,
				SourceURL:     sourceURL,
				ConnectorID:   conn.ID,
				ConnectorName: conn.Name,
				ChunkIndex:    idx,
			},
		})
	}
	return chunks, nil
}

// fetchURL 抓取网页并按响应类型提取纯文本：
// HTML 走 goquery 提取正文；text/* 原样返回；其余类型交给 Tika 提取。
func (s *CustomSource) fetchURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建抓取请求失败: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("抓取 URL '%s' 失败: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("抓取 URL '%s' 失败, status: %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("读取 URL '%s' 响应失败: %w", rawURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "html"):
		return extractHTMLText(body)
	case strings.HasPrefix(contentType, "text/"), contentType == "":
		return string(body), nil
	default:
		if s.tikaClient == nil {
			return "", fmt.Errorf("URL '%s' 的内容类型 '%s' 需要 Tika 支持，但未配置 Tika 服务", rawURL, contentType)
		}
		log.Infof("[CustomSource] 内容类型 '%s' 交给 Tika 提取文本, url: %s", contentType, rawURL)
		return s.tikaClient.ExtractText(ctx, bytes.NewReader(body), contentType)
	}
}

// extractHTMLText 剥离 HTML 标记，返回折叠空白后的正文文本。
func extractHTMLText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败: %w", err)
	}
	doc.Find("script,style,noscript").Remove()
	text := doc.Text()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " ")), nil
}

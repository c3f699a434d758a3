package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"rag-connect-go/internal/chunker"
	"rag-connect-go/internal/model"
	"rag-connect-go/pkg/log"
)

// maxJiraResults 限制单次同步拉取的 issue 数量。
const maxJiraResults = 50

// JiraSource 是问题跟踪系统数据源的适配器。
// 它通过 Jira search API 按 JQL 查询 issue，将每个 issue 合成为一个内容块。
type JiraSource struct {
	client *http.Client
}

// NewJiraSource 创建一个 Jira 适配器。
func NewJiraSource() *JiraSource {
	return &JiraSource{client: &http.Client{}}
}

// jiraIssue 对应 Jira search API 响应中的单个 issue。
type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      *struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		IssueType *struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
	} `json:"fields"`
}

type jiraSearchResponse struct {
	Issues []jiraIssue `json:"issues"`
}

// adfNode 是 Atlassian Document Format 富文本文档中的一个节点。
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// FetchChunks 实现 Source 接口。
// 配置要求：base_url、email、api_token、project_key 必填，jql 可选。
func (s *JiraSource) FetchChunks(ctx context.Context, conn *model.Connector) ([]Chunk, error) {
	if err := conn.RequireConfig("base_url", "email", "api_token", "project_key"); err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(conn.ConfigValue("base_url"), "/")
	projectKey := conn.ConfigValue("project_key")
	jql := conn.ConfigValue("jql")
	if jql == "" {
		jql = fmt.Sprintf("project = %s ORDER BY updated DESC", projectKey)
	}

	query := url.Values{}
	query.Set("jql", jql)
	query.Set("fields", "summary,description,status,assignee,issuetype,priority")
	query.Set("maxResults", fmt.Sprintf("%d", maxJiraResults))
	searchURL := fmt.Sprintf("%s/rest/api/3/search?%s", baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建 Jira 请求失败: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString(
		[]byte(conn.ConfigValue("email") + ":" + conn.ConfigValue("api_token")))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")

	log.Infof("[JiraSource] 开始查询 Jira, project: %s, jql: %s", projectKey, jql)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 Jira API 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("Jira API 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var searchResp jiraSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("解析 Jira 响应失败: %w", err)
	}
	log.Infof("[JiraSource] 查询完成, project: %s, 命中 issue 数: %d", projectKey, len(searchResp.Issues))

	var chunks []Chunk
	for _, issue := range searchResp.Issues {
		desc := extractDescription(issue.Fields.Description)
		status := fieldName(issue.Fields.Status, "Unknown")
		assignee := "Unassigned"
		if issue.Fields.Assignee != nil && issue.Fields.Assignee.DisplayName != "" {
			assignee = issue.Fields.Assignee.DisplayName
		}
		issueType := fieldName(issue.Fields.IssueType, "")
		priority := fieldName(issue.Fields.Priority, "")

		// 将 issue 的关键字段合成为一个内容块。issue 通常已接近分块尺寸，
		// 仍走一次切分流程以保持与其他数据源一致的契约。
		var content strings.Builder
		fmt.Fprintf(&content, "[%s] %s", issue.Key, issue.Fields.Summary)
		if desc != "" {
			content.WriteString("\n" + desc)
		}
		fmt.Fprintf(&content, "\nType: %s | Status: %s | Priority: %s | Assignee: %s",
			issueType, status, priority, assignee)

		for idx, part := range chunker.Split(content.String(), false) {
			chunks = append(chunks, Chunk{
				Content: part,
				Metadata: model.ChunkMetadata{
					SourceType:    model.SourceTypeJira,
					SourceURL:     fmt.Sprintf("%s/browse/%s", baseURL, issue.Key),
					ConnectorID:   conn.ID,
					ConnectorName: conn.Name,
					ChunkIndex:    idx,
					IssueKey:      issue.Key,
					ProjectKey:    projectKey,
					Status:        status,
					Assignee:      assignee,
				},
			})
		}
	}

	return chunks, nil
}

// extractDescription 从 issue 描述中提取纯文本。
// 描述可能是 ADF 富文本文档，也可能是旧版 API 的纯字符串。
func extractDescription(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var parts []string
	flattenADF(doc, &parts)
	return strings.Join(parts, " ")
}

// flattenADF 递归展开 ADF 节点树中所有携带文本的节点，忽略格式信息。
func flattenADF(node adfNode, parts *[]string) {
	if node.Type == "text" && node.Text != "" {
		*parts = append(*parts, node.Text)
	}
	for _, child := range node.Content {
		flattenADF(child, parts)
	}
}

// fieldName 取 Jira 命名字段的名称，空时返回兜底值。
func fieldName(f *struct {
	Name string `json:"name"`
}, fallback string) string {
	if f == nil || f.Name == "" {
		return fallback
	}
	return f.Name
}

package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"rag-connect-go/internal/chunker"
	"rag-connect-go/internal/model"
	"rag-connect-go/pkg/log"
)

const (
	// maxRepoFiles 限制单次同步处理的文件数，约束同步成本与时延。
	maxRepoFiles = 50
	// minFileContentLen 过滤内容过短、无索引价值的文件。
	minFileContentLen = 30
)

// supportedExtensions 是允许索引的文本/代码文件扩展名白名单。
var supportedExtensions = map[string]bool{
	".md": true, ".txt": true,
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".go": true, ".rs": true,
}

// skippedDirs 是遍历时跳过的依赖/产物目录。
var skippedDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
}

// GitHubSource 是代码仓库数据源的适配器。
// 它深度优先遍历仓库文件树，拉取白名单内的文本文件并切分为分块。
type GitHubSource struct {
	// baseURL 仅用于 GitHub Enterprise 或测试，留空则访问 api.github.com。
	baseURL string
}

// NewGitHubSource 创建一个 GitHub 适配器。
func NewGitHubSource(baseURL string) *GitHubSource {
	return &GitHubSource{baseURL: baseURL}
}

// newClient 按连接器的访问凭证构建 go-github 客户端。
// 公开仓库允许不带凭证访问。
func (s *GitHubSource) newClient(ctx context.Context, pat string) (*gh.Client, error) {
	var httpClient *http.Client
	if pat != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: pat})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	client := gh.NewClient(httpClient)
	if s.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(s.baseURL, s.baseURL)
		if err != nil {
			return nil, fmt.Errorf("配置 GitHub API 地址失败: %w", err)
		}
	}
	return client, nil
}

// FetchChunks 实现 Source 接口。
// 配置要求：repo（owner/name 形式，必填）、pat（可选）。
func (s *GitHubSource) FetchChunks(ctx context.Context, conn *model.Connector) ([]Chunk, error) {
	if err := conn.RequireConfig("repo"); err != nil {
		return nil, err
	}
	repo := conn.ConfigValue("repo")
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("github 连接器的 repo 必须为 owner/name 形式: %q", repo)
	}

	client, err := s.newClient(ctx, conn.ConfigValue("pat"))
	if err != nil {
		return nil, err
	}

	log.Infof("[GitHubSource] 开始遍历仓库文件树, repo: %s", repo)
	var files []*gh.RepositoryContent
	if err := s.collectFiles(ctx, client, owner, name, "", &files); err != nil {
		return nil, err
	}
	log.Infof("[GitHubSource] 文件树遍历完成, repo: %s, 候选文件数: %d", repo, len(files))

	var chunks []Chunk
	for _, file := range files {
		content, err := s.fetchFileContent(ctx, client, owner, name, file)
		if err != nil {
			return nil, fmt.Errorf("拉取文件 '%s' 内容失败: %w", file.GetPath(), err)
		}
		if len(strings.TrimSpace(content)) < minFileContentLen {
			continue
		}

		// .md/.txt 视为散文类文本，按标题结构切分；其余按固定窗口切分。
		isProse := isProseFile(file.GetName())
		parts := chunker.Split(content, isProse)

		sourceURL := file.GetHTMLURL()
		if sourceURL == "" {
			sourceURL = fmt.Sprintf("https://github.com/%s/blob/main/%s", repo, file.GetPath())
		}

		for idx, part := range parts {
			chunks = append(chunks, Chunk{
				// 分块前缀 "[repo] path" 让检索出的文本自我描述。
				Content: fmt.Sprintf("[%s] %s\n\n%s", repo, file.GetPath(), part),
				Metadata: model.ChunkMetadata{
					SourceType:    model.SourceTypeGitHub,
					SourceURL:     sourceURL,
					ConnectorID:   conn.ID,
					ConnectorName: conn.Name,
					ChunkIndex:    idx,
					Repo:          repo,
					FilePath:      file.GetPath(),
				},
			})
		}
	}

	log.Infof("[GitHubSource] 仓库内容拉取完成, repo: %s, 生成分块数: %d", repo, len(chunks))
	return chunks, nil
}

// collectFiles 深度优先遍历仓库目录，收集白名单扩展名的文件，
// 跳过隐藏目录与依赖目录，达到 maxRepoFiles 上限后停止。
func (s *GitHubSource) collectFiles(ctx context.Context, client *gh.Client, owner, repo, dir string, collected *[]*gh.RepositoryContent) error {
	if len(*collected) >= maxRepoFiles {
		return nil
	}

	_, items, resp, err := client.Repositories.GetContents(ctx, owner, repo, dir, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("GitHub API 列举目录 '%s' 失败: %w", dir, err)
	}

	for _, item := range items {
		if len(*collected) >= maxRepoFiles {
			break
		}
		switch item.GetType() {
		case "dir":
			name := item.GetName()
			if strings.HasPrefix(name, ".") || skippedDirs[name] {
				continue
			}
			if err := s.collectFiles(ctx, client, owner, repo, item.GetPath(), collected); err != nil {
				return err
			}
		case "file":
			if supportedExtensions[strings.ToLower(path.Ext(item.GetName()))] {
				*collected = append(*collected, item)
			}
		}
	}
	return nil
}

// fetchFileContent 拉取单个文件的内容。
// contents API 的响应为 base64 编码，由 go-github 解码；
// 超大文件响应不带内容，此时回退到 download_url 直接下载。
func (s *GitHubSource) fetchFileContent(ctx context.Context, client *gh.Client, owner, repo string, item *gh.RepositoryContent) (string, error) {
	fileContent, _, _, err := client.Repositories.GetContents(ctx, owner, repo, item.GetPath(), nil)
	if err != nil {
		return "", err
	}
	if fileContent == nil {
		return "", fmt.Errorf("路径 '%s' 不是文件", item.GetPath())
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return "", err
	}
	if content != "" {
		return content, nil
	}

	downloadURL := fileContent.GetDownloadURL()
	if downloadURL == "" {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("下载文件内容失败, status: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// isProseFile 判断文件是否为散文类文本（决定结构化切分策略）。
func isProseFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".txt")
}

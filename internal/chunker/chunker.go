// Package chunker 实现将规范化文本切分为检索尺寸分块的算法。
package chunker

import "strings"

const (
	// ProseMaxChunk 是按标题切分得到的段落的软上限（字符数）。
	ProseMaxChunk = 1500
	// MinSectionLen 是段落的最小长度，低于此长度视为噪声被丢弃。
	MinSectionLen = 20
	// WindowSize 是固定窗口切分的窗口大小（字符数）。
	WindowSize = 800
	// WindowOverlap 是相邻窗口之间的重叠大小（字符数）。
	// 重叠用于避免检索时分块边界处的上下文丢失。
	WindowOverlap = 100
)

// Split 将文本切分为有序的非空分块序列。
// structured 为 true 时按标题边界切分（适用于带 ##/### 标题的文本），
// 否则使用固定大小滑动窗口。输入先做 trim，空输入返回空序列。
// 相同输入与标志总是产生相同输出。
func Split(text string, structured bool) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if structured {
		return splitByHeadings(trimmed)
	}
	return splitByWindows(trimmed)
}

// splitByHeadings 在每个 "## " 或 "### " 开头的行之前断开文本。
// 过短的段落被丢弃；过长的段落递归交给窗口切分。
// 若没有段落存活，退化为截取前 ProseMaxChunk 个字符的单一分块，
// 保证非空输入永不返回空结果。
func splitByHeadings(trimmed string) []string {
	sections := splitSections(trimmed)
	var chunks []string
	for _, section := range sections {
		section = strings.TrimSpace(section)
		if len([]rune(section)) < MinSectionLen {
			continue
		}
		if len([]rune(section)) <= ProseMaxChunk {
			chunks = append(chunks, section)
		} else {
			chunks = append(chunks, splitByWindows(section)...)
		}
	}
	if len(chunks) == 0 {
		runes := []rune(trimmed)
		if len(runes) > ProseMaxChunk {
			runes = runes[:ProseMaxChunk]
		}
		return []string{string(runes)}
	}
	return chunks
}

// splitSections 按二级/三级标题行的行首位置切分文本，标题行保留在各自段落的开头。
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current strings.Builder
	for i, line := range lines {
		if i > 0 && isHeadingLine(line) && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}
	return sections
}

// isHeadingLine 判断一行是否为二级或三级标题（"## " 或 "### " 开头）。
func isHeadingLine(line string) bool {
	return strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "### ")
}

// splitByWindows 使用固定大小滑动窗口切分文本，相邻窗口重叠 WindowOverlap 个字符，
// 最后一个窗口可以不足 WindowSize。
func splitByWindows(trimmed string) []string {
	runes := []rune(trimmed)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := WindowSize - WindowOverlap
	for i := 0; i < len(runes); i += step {
		end := i + WindowSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

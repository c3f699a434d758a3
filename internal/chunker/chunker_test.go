package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyInput(t *testing.T) {
	assert.Empty(t, Split("", false))
	assert.Empty(t, Split("   \n\t  ", false))
	assert.Empty(t, Split("", true))
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("天道酬勤 abc 123。", 200)
	for _, structured := range []bool{true, false} {
		first := Split(text, structured)
		second := Split(text, structured)
		assert.Equal(t, first, second)
	}
}

func TestSplitFixedWindows(t *testing.T) {
	// 1000 个字符应切为恰好两个窗口：[0,800) 和 [700,1000)。
	text := strings.Repeat("a", 1000)
	chunks := Split(text, false)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 800), chunks[0])
	assert.Equal(t, strings.Repeat("a", 300), chunks[1])
}

func TestSplitWindowOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	text := sb.String()
	chunks := Split(text, false)
	require.True(t, len(chunks) > 1)

	// 相邻窗口重叠 100 个字符。
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-WindowOverlap:])
		assert.Equal(t, tail, string([]rune(chunks[i])[:WindowOverlap]))
	}

	// 去掉重叠后的拼接应无损还原原文。
	var rebuilt strings.Builder
	rebuilt.WriteString(chunks[0])
	for i := 1; i < len(chunks); i++ {
		rebuilt.WriteString(string([]rune(chunks[i])[WindowOverlap:]))
	}
	assert.Equal(t, text, rebuilt.String())

	// 任何窗口都不超过上限。
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), WindowSize)
	}
}

func TestSplitShortInputSingleWindow(t *testing.T) {
	chunks := Split("hello world", false)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestSplitByHeadings(t *testing.T) {
	text := "# Title\n\n## A\nfoo is a thing we like\n\n## B\nbar is another thing here"
	chunks := Split(text, true)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0], "## A"))
	assert.True(t, strings.HasPrefix(chunks[1], "## B"))
}

func TestSplitByHeadingsMinorHeadings(t *testing.T) {
	text := "### first section with enough text\nbody\n\n### second section with enough text\nbody"
	chunks := Split(text, true)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0], "### first"))
	assert.True(t, strings.HasPrefix(chunks[1], "### second"))
}

func TestSplitByHeadingsDropsNoise(t *testing.T) {
	// "## x" 一节不足 20 个字符，应被作为噪声丢弃。
	text := "## x\n\n## real section\nwith some real content in it"
	chunks := Split(text, true)
	require.Len(t, chunks, 1)
	assert.True(t, strings.HasPrefix(chunks[0], "## real section"))
}

func TestSplitByHeadingsFallback(t *testing.T) {
	// 没有任何段落存活时退化为单一分块，保证非空输入不返回空。
	text := "no headings here at all, just plain prose that is long enough"
	chunks := Split(text, true)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])

	long := strings.Repeat("z", 4000)
	chunks = Split(long, true)
	// 无标题的超长文本：所有"段落"都超长，递归交给窗口切分。
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), WindowSize)
	}
}

func TestSplitByHeadingsRechunksLongSection(t *testing.T) {
	long := "## big section\n" + strings.Repeat("b", 3000)
	chunks := Split(long, true)
	require.True(t, len(chunks) > 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), ProseMaxChunk)
	}
}

func TestSplitNonEmptyGuarantee(t *testing.T) {
	inputs := []string{"short", "## h\nx", strings.Repeat("y", 5000), "# only a title"}
	for _, in := range inputs {
		for _, structured := range []bool{true, false} {
			assert.NotEmpty(t, Split(in, structured), "input=%q structured=%v", in, structured)
		}
	}
}

package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/tenderflow/pkg/ports"
)

func fixedRenderer() *Markdown {
	return &Markdown{now: func() time.Time {
		return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	}}
}

func TestRender(t *testing.T) {
	out, err := fixedRenderer().Render("投标文件智能分析报告", []ports.ReportSection{
		{Title: "一、废标项检查", Body: "# 结论\n未发现废标项\n=== 细节 ===\n```\n# keep\n```"},
		{Title: "二、商务得分检查", Body: "  "},
	})
	require.NoError(t, err)

	want := strings.Join([]string{
		"# 投标文件智能分析报告",
		"",
		"生成时间：2026-03-01 09:30:00",
		"",
		"## 一、废标项检查",
		"",
		"### 结论",
		"未发现废标项",
		"### 细节",
		"```",
		"# keep",
		"```",
		"",
		"## 二、商务得分检查",
		"",
		"无",
		"",
	}, "\n")
	assert.Equal(t, want, string(out))
}

func TestRenderRequiresTitle(t *testing.T) {
	_, err := NewMarkdown().Render(" ", nil)
	assert.Error(t, err)
	assert.Equal(t, ContentType, NewMarkdown().ContentType())
}

func TestNestHeading(t *testing.T) {
	tests := map[string]string{
		"## 小节":        "#### 小节",
		"##### 深":      "###### 深",
		"#hashtag":     "#hashtag",
		"正文 # 不是标题":    "正文 # 不是标题",
		"======":       "======",
		"==== 总结 ====": "### 总结",
	}
	for in, want := range tests {
		assert.Equal(t, want, nestHeading(in), in)
	}
}

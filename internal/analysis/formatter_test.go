package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcline/internal/domain"
)

func sampleReport() Report {
	cpk := 0.71
	return Report{
		Dimension: "workshop",
		Key:       "BLOCK_E",
		Status:    domain.SeverityCritical,
		CriticalIssues: []Issue{
			{NodeCode: "E02", NodeName: "提取罐", ParamCode: "temp", ParamName: "温度",
				Severity: domain.SeverityCritical, Status: "失控", Cpk: &cpk,
				CurrentValue: 90.5, Violations: 1, Description: "温度（提取罐） Cpk=0.71（勉强），过程失控，1个违规点"},
		},
		Warnings: []Issue{
			{NodeCode: "E01", ParamCode: "pressure", ParamName: "压力",
				Severity: domain.SeverityWarning, Description: "压力（E01）能力不足需关注"},
		},
		Insights:    []string{"🔴 发现1个严重问题，需立即处理"},
		GeneratedAt: "2025-01-08T08:00:00Z",
	}
}

func TestParagraphsOrdering(t *testing.T) {
	paras := Paragraphs(sampleReport())
	require.GreaterOrEqual(t, len(paras), 4)
	assert.Contains(t, paras[0], "车间维度分析报告")
	assert.Contains(t, paras[0], "BLOCK_E")
	assert.Contains(t, paras[1], "🔴 严重")
	assert.Contains(t, paras[2], "问题1")
	assert.Contains(t, paras[2], "Cpk=0.71")
	assert.Contains(t, paras[3], "警告1")
	assert.Equal(t, "🔴 发现1个严重问题，需立即处理", paras[len(paras)-1])
}

func TestMarkdownSections(t *testing.T) {
	md := Markdown(sampleReport())
	assert.True(t, strings.HasPrefix(md, "# 车间维度分析报告"))
	assert.Contains(t, md, "## 关键问题")
	assert.Contains(t, md, "## 警告")
	assert.Contains(t, md, "## 分析洞察")
	assert.Contains(t, md, "**[CRITICAL]**")
}

func TestMergeTakesWorstStatus(t *testing.T) {
	normal := Report{Dimension: "workshop", Key: "BLOCK_C", Status: domain.SeverityNormal,
		CriticalIssues: []Issue{}, Warnings: []Issue{}, Insights: []string{"🟢 全部2个参数受控"}}
	merged := Merge([]Report{normal, sampleReport()})

	assert.Equal(t, domain.SeverityCritical, merged.Status)
	assert.Equal(t, "daily", merged.Dimension)
	assert.Equal(t, "BLOCK_C,BLOCK_E", merged.Key)
	assert.Len(t, merged.CriticalIssues, 1)
	assert.Len(t, merged.Warnings, 1)
	require.NotEmpty(t, merged.Insights)
	assert.Contains(t, merged.Insights[0], "合并2个维度报告")
}

func TestMergeDeduplicatesQuickActions(t *testing.T) {
	a := Report{Key: "A", Status: domain.SeverityWarning, QuickActions: []string{"ACT_1", "ACT_2"}}
	b := Report{Key: "B", Status: domain.SeverityWarning, QuickActions: []string{"ACT_2", "ACT_3"}}
	merged := Merge([]Report{a, b})
	assert.Equal(t, []string{"ACT_1", "ACT_2", "ACT_3"}, merged.QuickActions)
}

package pipeline

import "github.com/aescanero/tenderflow/pkg/ports"

// Report titles.
const (
	AuditReportTitle    = "投标文件智能分析报告"
	MaterialReportTitle = "投标材料"
)

var auditSections = []struct {
	title string
	value func(*Result) string
}{
	{"一、废标项检查", func(r *Result) string { return r.InvalidItemsCheck }},
	{"二、商务得分检查", func(r *Result) string { return r.CommercialScoreCheck }},
	{"三、技术方案检查", func(r *Result) string { return r.TechnicalPlanCheck }},
	{"四、指标应答检查", func(r *Result) string { return r.IndicatorResponseCheck }},
	{"五、技术得分检查", func(r *Result) string { return r.TechnicalScoreCheck }},
	{"六、文件结构检查", func(r *Result) string { return r.BidStructureCheck }},
	{"七、修改建议汇总", func(r *Result) string { return r.FinalModificationSuggestions }},
}

// Report returns the title and sections of the document for a finished
// invocation of workflow. Empty sections are left out.
func Report(workflow WorkflowType, r *Result) (string, []ports.ReportSection) {
	var sections []ports.ReportSection
	add := func(title, body string) {
		if body != "" {
			sections = append(sections, ports.ReportSection{Title: title, Body: body})
		}
	}

	if workflow == WorkflowGenerate {
		add("商务投标材料", r.CommercialMaterial)
		add("技术投标材料", r.TechnicalMaterial)
		return MaterialReportTitle, sections
	}
	for _, s := range auditSections {
		add(s.title, s.value(r))
	}
	return AuditReportTitle, sections
}

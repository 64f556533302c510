// 包 gallery：会话画廊的聚合逻辑（完成度统计、按标识检索、卡片构建与批量导出）
package gallery

import (
	"math"

	"geo-survey/internal/survey"
)

// Stats：单个会话的完成度统计
type Stats struct {
	Completed       int `json:"completed"`
	Total           int `json:"total"`
	PolygonCount    int `json:"polygonCount"`
	PopupCount      int `json:"popupCount"`
	ProgressPercent int `json:"progressPercent"`
}

// 文档注释：计算完成度
// 约束：total 为任务目录大小，completed 为结果条数；百分比四舍五入（math.Round，远离零）；total 为 0 时百分比为 0
func ComputeStats(results []survey.StoredResult, total int) Stats {
	s := Stats{Completed: len(results), Total: total}
	for _, r := range results {
		switch r.Kind {
		case survey.KindPolygon:
			s.PolygonCount++
		case survey.KindMarker:
			s.PopupCount++
		}
	}
	if total > 0 {
		s.ProgressPercent = int(math.Round(100 * float64(s.Completed) / float64(total)))
	}
	return s
}

package gallery

import (
	"sort"
	"time"

	"geo-survey/internal/geo"
	"geo-survey/internal/logger"
	"geo-survey/internal/metrics"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"
)

// ResultCard：单条结果的只读展示数据
type ResultCard struct {
	TaskID      int            `json:"taskId"`
	Kind        survey.Kind    `json:"kind"`
	Instruction string         `json:"instruction,omitempty"`
	Payload     survey.Payload `json:"payload,omitempty"`
	Viewport    geo.Viewport   `json:"viewport"`
	Error       string         `json:"error,omitempty"`
}

// Card：画廊中的单个会话
type Card struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	Stats     Stats        `json:"stats"`
	Results   []ResultCard `json:"results"`
}

// 文档注释：构建画廊卡片
// 背景：每条结果独立解码并计算只读视口；解码失败只标记该条结果（Error 非空、无负载），不影响同一会话或其他会话。
// 约束：结果按 taskId 升序；任务序号不在目录内时指令文本为空。
func BuildCards(sessions []survey.Session, catalog *tasks.Catalog, fallback geo.Viewport) []Card {
	cards := make([]Card, 0, len(sessions))
	for _, s := range sessions {
		c := Card{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			Stats:     ComputeStats(s.Results, catalog.Len()),
			Results:   make([]ResultCard, 0, len(s.Results)),
		}
		for _, r := range s.Results {
			c.Results = append(c.Results, buildResult(s.ID, r, catalog, fallback))
		}
		sort.SliceStable(c.Results, func(i, j int) bool { return c.Results[i].TaskID < c.Results[j].TaskID })
		cards = append(cards, c)
	}
	return cards
}

func buildResult(sessionID string, r survey.StoredResult, catalog *tasks.Catalog, fallback geo.Viewport) ResultCard {
	rc := ResultCard{TaskID: r.TaskID, Kind: r.Kind, Viewport: fallback}
	if def, err := catalog.Get(r.TaskID); err == nil {
		rc.Instruction = def.Instruction
	}
	tr, ok, err := r.Decode()
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		logger.L().Warn("gallery_result_decode_error", "id", sessionID, "task", r.TaskID, "err", err)
		rc.Error = err.Error()
		return rc
	}
	if !ok {
		return rc
	}
	rc.Payload = tr.Payload
	rc.Viewport = geo.FitViewport(survey.Points(tr.Payload), fallback)
	return rc
}

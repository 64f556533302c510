package gallery

import (
	"sort"
	"strings"

	"geo-survey/internal/survey"
)

// Filter：按会话标识做不区分大小写的子串匹配，结果按 createdAt 倒序（同一时刻按标识升序）
// 查询按原样匹配（不去除首尾空白）；空查询返回全部会话；不修改入参
func Filter(sessions []survey.Session, query string) []survey.Session {
	q := strings.ToLower(query)
	out := make([]survey.Session, 0, len(sessions))
	for _, s := range sessions {
		if q == "" || strings.Contains(strings.ToLower(s.ID), q) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

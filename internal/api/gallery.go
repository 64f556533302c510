package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"geo-survey/internal/gallery"
	"geo-survey/internal/logger"
)

// 批量导出：先完整写入内存再响应，归档失败时仍能返回错误状态
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	all, err := s.Backend.ListSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := gallery.Filter(all, r.URL.Query().Get("q"))
	var buf bytes.Buffer
	if err := gallery.Export(&buf, list); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("content-type", "application/zip")
	w.Header().Set("content-disposition", fmt.Sprintf(`attachment; filename="sessions-%s.zip"`, time.Now().UTC().Format("20060102-150405")))
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

const eventsHeartbeat = 25 * time.Second

// 文档注释：会话变更事件流（SSE）
// 背景：画廊页收到 change 事件后重新拉取列表；事件只携带会话标识，不携带数据。
// 约束：未启用 Redis 时返回 503；连接断开（请求 ctx 取消）时订阅随之关闭；定期发送注释行保活。
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "streaming unsupported"})
		return
	}
	ch, err := s.Backend.Subscribe(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-store")
	w.Header().Set("connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()
	logger.L().Debug("gallery_events_open", "ip", r.RemoteAddr)

	tick := time.NewTicker(eventsHeartbeat)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			logger.L().Debug("gallery_events_close", "ip", r.RemoteAddr)
			return
		case <-tick.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		case id, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "event: change\ndata: %s\n\n", id)
			fl.Flush()
		}
	}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"geo-survey/internal/annotate"
	"geo-survey/internal/geo"
	"geo-survey/internal/logger"
	"geo-survey/internal/store"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"
)

// errBadInput：请求体无法解析
var errBadInput = errors.New("bad request body")

// asInput：请求体解码错误；坐标错误保留原错误以便映射
func asInput(err error) error {
	if errors.Is(err, geo.ErrInvalidCoordinate) {
		return err
	}
	return fmt.Errorf("%w: %v", errBadInput, err)
}

// errorBody：对外错误结构；code 稳定供前端判断，message 仅用于提示
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// 文档注释：错误到 HTTP 状态的统一映射
// 背景：参与者只看到一次性的提示；存储失败给出通用“请重新提交”文案，不暴露数据库细节。
// 约束：未识别的错误一律 500 并记录日志。
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errBadInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, geo.ErrDegenerateRing),
		errors.Is(err, survey.ErrKindMismatch):
		return http.StatusBadRequest, "invalid_geometry"
	case errors.Is(err, annotate.ErrEmptyAnnotation):
		return http.StatusUnprocessableEntity, "empty_annotation"
	case errors.Is(err, annotate.ErrWrongMode),
		errors.Is(err, annotate.ErrReadOnly),
		errors.Is(err, annotate.ErrSubmitted):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, tasks.ErrUnknownTask):
		return http.StatusNotFound, "unknown_task"
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, store.ErrNotifyDisabled):
		return http.StatusServiceUnavailable, "notify_disabled"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		if code == "store_unavailable" {
			msg = "saving failed, please submit again"
		}
	case http.StatusInternalServerError:
		logger.L().Error("api_error", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

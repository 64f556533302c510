package gallery

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"geo-survey/internal/logger"
	"geo-survey/internal/metrics"
	"geo-survey/internal/survey"
)

// 文档注释：归档内文件名
// 背景：会话标识来自客户端 Cookie，可能包含路径分隔符；按路径段转义后不会逃出归档根目录。
// 约束：映射必须是单射，不同会话不得落到同一条目（"%" 本身也被转义，故 "%2E" 只能来自点号替换）。
func EntryName(sessionID string) string {
	name := url.PathEscape(sessionID)
	switch name {
	case ".":
		name = "%2E"
	case "..":
		name = "%2E%2E"
	}
	return name + ".json"
}

// 文档注释：导出会话归档
// 背景：每个会话一个 <id>.json 条目，内容为完整会话记录（results 保持存储形态）；写入 w 后关闭归档。
// 约束：条目修改时间取会话 createdAt，同一数据两次导出内容一致。
func Export(w io.Writer, sessions []survey.Session) error {
	zw := zip.NewWriter(w)
	for _, s := range sessions {
		rec := s
		if rec.Results == nil {
			rec.Results = []survey.StoredResult{}
		}
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("encode session %s: %w", s.ID, err)
		}
		hdr := &zip.FileHeader{Name: EntryName(s.ID), Method: zip.Deflate, Modified: s.CreatedAt}
		f, err := zw.CreateHeader(hdr)
		if err != nil {
			_ = zw.Close()
			return err
		}
		if _, err := f.Write(b); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	metrics.ExportsTotal.Inc()
	logger.L().Info("sessions_export_ok", "count", len(sessions))
	return nil
}

package migrate

import (
	"database/sql"

	"geo-survey/internal/logger"
)

// 背景：首次运行自动创建会话集合表与索引
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；会话按 id 等值查询，results 为 TaskResult 形态记录的 JSONB 数组
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _survey_sessions (
            id TEXT PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            results JSONB NOT NULL DEFAULT '[]'::jsonb
        )`,
		`CREATE INDEX IF NOT EXISTS idx_survey_sessions_created ON _survey_sessions(created_at DESC)`,
		// 约束仅在缺失时添加；多实例同时启动时后到者忽略 duplicate_object
		`DO $$
        BEGIN
            IF NOT EXISTS (
                SELECT 1 FROM pg_constraint
                WHERE conname = '_survey_sessions_results_array'
                  AND conrelid = '_survey_sessions'::regclass
            ) THEN
                ALTER TABLE _survey_sessions ADD CONSTRAINT _survey_sessions_results_array CHECK (jsonb_typeof(results) = 'array');
            END IF;
        EXCEPTION WHEN duplicate_object THEN
            NULL;
        END $$`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}

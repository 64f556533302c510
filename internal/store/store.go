// 包 store: 结果存储层，基于 PostgreSQL 的会话文档集合（results 为 JSONB），可选 Redis 读缓存与变更通知
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"geo-survey/internal/logger"
	"geo-survey/internal/metrics"
	"geo-survey/internal/survey"
	"geo-survey/internal/tasks"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable：底层数据库调用失败；由参与者重新提交重试，不自动重试
var ErrStoreUnavailable = errors.New("store unavailable")

// Store: 会话集合访问入口，持有连接池、任务目录与可选 Redis 客户端
type Store struct {
	db       *sql.DB
	rc       *redis.Client
	catalog  *tasks.Catalog
	cacheTTL time.Duration
}

// AttachDB：绑定已打开的连接池；catalog 用于写入前的类型校验
func AttachDB(db *sql.DB, catalog *tasks.Catalog) *Store {
	return &Store{db: db, catalog: catalog, cacheTTL: time.Hour}
}

// WithRedis：启用会话读缓存与变更通知；rc 为 nil 时保持禁用
func (s *Store) WithRedis(rc *redis.Client, ttl time.Duration) *Store {
	s.rc = rc
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func unavailable(op string, err error) error {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	logger.L().Error("store_error", "op", op, "err", err)
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func observe(op string, start time.Time) {
	metrics.StoreDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

const ensureSQL = `INSERT INTO _survey_sessions(id, created_at, results)
        VALUES($1, now(), '[]'::jsonb)
        ON CONFLICT (id) DO NOTHING`

// 文档注释：确保会话文档存在
// 背景：标识生成与首次保存两条路径共用此操作；created_at 只在首次插入时写入，之后不再变化。
func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	defer observe("ensure", time.Now())
	if sessionID == "" {
		return errors.New("empty session id")
	}
	if _, err := s.db.ExecContext(ctx, ensureSQL, sessionID); err != nil {
		return unavailable("ensure", err)
	}
	logger.L().Debug("session_ensure_ok", "id", sessionID)
	return nil
}

// 文档注释：写入任务结果（按 taskId 替换或追加）
// 背景：一次调用即一次完整的读-改-写：在同一事务内确保会话存在、行锁读取 results、合并后整体写回。
// 约束：写入前按任务目录校验类型；不同 taskId 的并发调用在会话行锁上串行，整体 results 以最后提交为准。
func (s *Store) UpsertResult(ctx context.Context, sessionID string, taskID int, p survey.Payload) error {
	defer observe("upsert", time.Now())
	if sessionID == "" {
		return errors.New("empty session id")
	}
	if p == nil {
		return errors.New("nil payload")
	}
	if err := s.catalog.CheckKind(taskID, p.Kind()); err != nil {
		return err
	}
	rec, err := survey.EncodeResult(taskID, p)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("upsert", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, ensureSQL, sessionID); err != nil {
		return unavailable("upsert", err)
	}
	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT results FROM _survey_sessions WHERE id=$1 FOR UPDATE`, sessionID).Scan(&raw); err != nil {
		return unavailable("upsert", err)
	}
	current, err := decodeResults(raw)
	if err != nil {
		// 整体 results 无法解析时以本次结果重建，避免会话永久不可写
		logger.L().Warn("results_column_corrupt", "id", sessionID, "err", err)
		current = nil
	}
	merged := survey.UpsertInto(current, rec)
	b, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _survey_sessions SET results=$2::jsonb, updated_at=now() WHERE id=$1`, sessionID, string(b)); err != nil {
		return unavailable("upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("upsert", err)
	}
	metrics.ResultUpsertsTotal.WithLabelValues(string(rec.Kind)).Inc()
	logger.L().Debug("result_upsert_ok", "id", sessionID, "task", taskID, "kind", rec.Kind, "results", len(merged))
	s.cacheDrop(ctx, sessionID)
	s.publish(ctx, sessionID)
	return nil
}

func decodeResults(raw []byte) ([]survey.StoredResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []survey.StoredResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession：读取单个会话；不存在时返回 ok=false
func (s *Store) GetSession(ctx context.Context, sessionID string) (survey.Session, bool, error) {
	defer observe("get", time.Now())
	if sess, ok := s.cacheGet(ctx, sessionID); ok {
		return sess, true, nil
	}
	gen, cacheable := s.cacheGen(ctx, sessionID)
	var sess survey.Session
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at, results FROM _survey_sessions WHERE id=$1 LIMIT 1`, sessionID).
		Scan(&sess.ID, &sess.CreatedAt, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return survey.Session{}, false, nil
	}
	if err != nil {
		return survey.Session{}, false, unavailable("get", err)
	}
	results, err := decodeResults(raw)
	if err != nil {
		logger.L().Warn("results_column_corrupt", "id", sessionID, "err", err)
	}
	sess.Results = results
	if cacheable {
		s.cacheSet(ctx, sess, gen)
	}
	return sess, true, nil
}

// 文档注释：读取指定任务的先前结果
// 返回：ok=false 表示没有可用结果；持久化文本损坏时返回包含 geo.ErrMalformedGeometry 的错误（不吞掉），
// 调用方按“无先前结果”处理，不会得到部分解码的几何。
func (s *Store) GetResult(ctx context.Context, sessionID string, taskID int) (survey.TaskResult, bool, error) {
	sess, ok, err := s.GetSession(ctx, sessionID)
	if err != nil || !ok {
		return survey.TaskResult{}, false, err
	}
	tr, ok, err := survey.FindResult(sess.Results, taskID)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		logger.L().Warn("result_decode_error", "id", sessionID, "task", taskID, "err", err)
		return survey.TaskResult{}, false, err
	}
	return tr, ok, nil
}

// ListSessions：按创建时间倒序返回全部会话（results 保持编码形态，展示时再解码）
// 约束：单个会话 results 列无法解析时跳过该会话并记录日志，不影响其余会话
func (s *Store) ListSessions(ctx context.Context) ([]survey.Session, error) {
	defer observe("list", time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, results FROM _survey_sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()
	var out []survey.Session
	for rows.Next() {
		var sess survey.Session
		var raw []byte
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &raw); err != nil {
			return nil, unavailable("list", err)
		}
		results, err := decodeResults(raw)
		if err != nil {
			logger.L().Warn("session_list_skip", "id", sess.ID, "err", err)
			continue
		}
		sess.Results = results
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	logger.L().Debug("session_list_ok", "count", len(out))
	return out, nil
}

// DeleteSession：删除会话及其全部结果；会话不存在时为空操作
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	defer observe("delete", time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM _survey_sessions WHERE id=$1`, sessionID)
	if err != nil {
		return unavailable("delete", err)
	}
	n, _ := res.RowsAffected()
	s.cacheDrop(ctx, sessionID)
	if n > 0 {
		metrics.SessionsDeletedTotal.Inc()
		s.publish(ctx, sessionID)
	}
	logger.L().Info("session_delete_ok", "id", sessionID, "rows", n)
	return nil
}

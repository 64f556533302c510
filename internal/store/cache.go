package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"geo-survey/internal/logger"
	"geo-survey/internal/metrics"
	"geo-survey/internal/survey"

	"github.com/redis/go-redis/v9"
)

// 文档注释：会话读缓存（Redis）
// 背景：任务页每次进入都要读取先前结果，热点会话放入 Redis 降低数据库读取；写入与删除时整键失效。
// 约束：rc 为 nil 时全部为空操作；缓存读写失败只记录日志，不影响主流程。
// 回填与失效可能交错：读路径在查库前取得代数，回填时在 WATCH 下核对代数，写路径提交后先递增代数再删键，
// 因此提交前读到的旧会话不会在失效之后被写回缓存。
const (
	sessionKeyPrefix = "survey:session:"
	sessionGenPrefix = "survey:session:gen:"
)

func sessionKey(id string) string { return sessionKeyPrefix + id }

func sessionGenKey(id string) string { return sessionGenPrefix + id }

// 代数键的保留时间远长于缓存本身，避免读路径在途期间代数被回收
func (s *Store) genTTL() time.Duration { return 24*time.Hour + 2*s.cacheTTL }

func (s *Store) cacheGet(ctx context.Context, id string) (survey.Session, bool) {
	if s.rc == nil {
		return survey.Session{}, false
	}
	v, err := s.rc.Get(ctx, sessionKey(id)).Result()
	if err != nil || v == "" {
		metrics.CacheMissesTotal.Inc()
		return survey.Session{}, false
	}
	var sess survey.Session
	if err := json.Unmarshal([]byte(v), &sess); err != nil {
		metrics.CacheMissesTotal.Inc()
		logger.L().Debug("session_cache_decode_error", "id", id, "err", err)
		return survey.Session{}, false
	}
	metrics.CacheHitsTotal.Inc()
	return sess, true
}

// cacheGen：读取会话当前代数；键不存在视为 0，Redis 不可用时 ok=false（本次不回填）
func (s *Store) cacheGen(ctx context.Context, id string) (int64, bool) {
	if s.rc == nil {
		return 0, false
	}
	n, err := s.rc.Get(ctx, sessionGenKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		logger.L().Debug("session_cache_gen_error", "id", id, "err", err)
		return 0, false
	}
	return n, true
}

// cacheSet：仅当代数仍为 gen 时回填；期间有写入提交则放弃
func (s *Store) cacheSet(ctx context.Context, sess survey.Session, gen int64) {
	if s.rc == nil {
		return
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return
	}
	genKey := sessionGenKey(sess.ID)
	err = s.rc.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			logger.L().Debug("session_cache_set_stale", "id", sess.ID, "gen", gen, "current", cur)
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, sessionKey(sess.ID), string(b), s.cacheTTL)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		logger.L().Debug("session_cache_set_stale", "id", sess.ID, "gen", gen)
		return
	}
	if err != nil {
		logger.L().Debug("session_cache_set_error", "id", sess.ID, "err", err)
	}
}

// cacheDrop：写入提交后调用；递增代数并删除缓存值
func (s *Store) cacheDrop(ctx context.Context, id string) {
	if s.rc == nil {
		return
	}
	genKey := sessionGenKey(id)
	_, err := s.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, s.genTTL())
		p.Del(ctx, sessionKey(id))
		return nil
	})
	if err != nil {
		logger.L().Debug("session_cache_del_error", "id", id, "err", err)
	}
}

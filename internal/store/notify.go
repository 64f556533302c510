package store

import (
	"context"
	"errors"

	"geo-survey/internal/logger"
)

// ChangesChannel：会话变更通知频道，消息体为会话标识
const ChangesChannel = "survey:sessions:changed"

// ErrNotifyDisabled：未配置 Redis，无法订阅变更
var ErrNotifyDisabled = errors.New("change notifications disabled")

func (s *Store) publish(ctx context.Context, id string) {
	if s.rc == nil {
		return
	}
	if err := s.rc.Publish(ctx, ChangesChannel, id).Err(); err != nil {
		logger.L().Debug("session_publish_error", "id", id, "err", err)
	}
}

// 文档注释：订阅会话变更
// 背景：画廊页收到任意会话的写入/删除通知后重新拉取列表；只是“有变化”的信号，不携带数据，也不加锁。
// 约束：返回的通道在 ctx 取消或订阅断开时关闭；消费过慢时阻塞在发送上直到 ctx 取消。
func (s *Store) Subscribe(ctx context.Context) (<-chan string, error) {
	if s.rc == nil {
		return nil, ErrNotifyDisabled
	}
	ps := s.rc.Subscribe(ctx, ChangesChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable("subscribe", err)
	}
	out := make(chan string)
	go func() {
		defer close(out)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

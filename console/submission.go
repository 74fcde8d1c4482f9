package console

import (
	"sync"

	"github.com/segmentio/ksuid"
)

// Tracker 给每次提交发一个 ksuid 令牌并记录最新的一个。
// 页面只渲染令牌仍是最新的那个响应，晚到的旧响应直接丢弃
// （last-submitted-wins，而不是 last-resolved-wins）。
type Tracker struct {
	mu     sync.Mutex
	latest string
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin 开始一次新提交，之前所有在途提交随即过期
func (t *Tracker) Begin() string {
	token := ksuid.New().String()
	t.mu.Lock()
	t.latest = token
	t.mu.Unlock()
	return token
}

// IsCurrent 该令牌是否仍是最新提交
func (t *Tracker) IsCurrent(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return token != "" && token == t.latest
}

// Latest 当前最新的令牌，没有提交过时为空串
func (t *Tracker) Latest() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

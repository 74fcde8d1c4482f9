package console

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/freistellen/rembg"
)

// statusCache 缓存上游的服务状态，由 cron 在后台定时刷新，
// 页面打开时不用每次都打上游。冷缓存时退回现场请求。
type statusCache struct {
	api    API
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot *rembg.ServiceStatus

	cron *cron.Cron
}

func newStatusCache(api API, logger *zap.Logger) *statusCache {
	return &statusCache{
		api:    api,
		logger: logger,
	}
}

// start 按 cron 表达式定时刷新，表达式为空时不起后台任务
func (s *statusCache) start(schedule string) error {
	if schedule == "" {
		return nil
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.refresh(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *statusCache) stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *statusCache) refresh(ctx context.Context) {
	status, err := s.api.Status(ctx)
	if err != nil {
		// 刷新失败不清掉旧快照，页面还能显示上次的状态
		s.logger.Warn("status refresh failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.snapshot = status
	s.mu.Unlock()
}

// get 返回缓存的快照；还没有快照时现场请求一次
func (s *statusCache) get(ctx context.Context) (*rembg.ServiceStatus, error) {
	s.mu.RLock()
	snapshot := s.snapshot
	s.mu.RUnlock()
	if snapshot != nil {
		return snapshot, nil
	}

	status, err := s.api.Status(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.snapshot = status
	s.mu.Unlock()
	return status, nil
}

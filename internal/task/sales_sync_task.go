package task

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fliptools/internal/repository"
	"fliptools/internal/service"
)

// ==================== SalesSyncTask 销售同步任务 ====================

// SalesSyncer 单用户多平台同步
type SalesSyncer interface {
	SyncPlatformSales(ctx context.Context, userID int64, opts service.SyncOptions) (*service.SyncResult, error)
}

// SyncTotals 一轮定时同步的汇总
type SyncTotals struct {
	Users   int
	Synced  int
	Failed  int // 平台级失败数
	Errored int // 用户级错误数
}

// SalesSyncTask 定时为所有已连接用户同步销售
// 冷却仍然生效，刚手动同步过的平台会被跳过
type SalesSyncTask struct {
	conns  repository.ConnectionRepository
	syncer SalesSyncer
	cron   *cron.Cron
	spec   string
	log    *zap.Logger

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
	timeout          time.Duration
}

// NewSalesSyncTask 创建销售同步任务
func NewSalesSyncTask(conns repository.ConnectionRepository, syncer SalesSyncer, spec string, log *zap.Logger) *SalesSyncTask {
	if spec == "" {
		spec = "0 */30 * * * *"
	}
	return &SalesSyncTask{
		conns:            conns,
		syncer:           syncer,
		cron:             cron.New(cron.WithSeconds()),
		spec:             spec,
		log:              log.Named("sales_sync_task"),
		concurrencyLimit: 5,
		sleepTime:        200 * time.Millisecond,
		timeout:          20 * time.Minute,
	}
}

// SetConcurrency 设置并发参数
func (t *SalesSyncTask) SetConcurrency(limit int, sleep time.Duration) {
	if limit > 0 {
		t.concurrencyLimit = limit
	}
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *SalesSyncTask) Start() error {
	if _, err := t.cron.AddFunc(t.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		t.RunOnce(ctx)
	}); err != nil {
		return err
	}

	t.cron.Start()
	t.log.Info("销售同步任务已启动", zap.String("spec", t.spec), zap.Int("concurrency", t.concurrencyLimit))
	return nil
}

// Stop 停止任务
func (t *SalesSyncTask) Stop() {
	<-t.cron.Stop().Done()
	t.log.Info("销售同步任务已停止")
}

// RunOnce 同步所有已连接用户
func (t *SalesSyncTask) RunOnce(ctx context.Context) SyncTotals {
	var totals SyncTotals

	userIDs, err := t.conns.ListUserIDs(ctx)
	if err != nil {
		t.log.Error("获取用户列表失败", zap.Error(err))
		return totals
	}
	if len(userIDs) == 0 {
		return totals
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	t.log.Info("开始同步销售", zap.Int("users", len(userIDs)))

	for _, uid := range userIDs {
		select {
		case <-ctx.Done():
			t.log.Warn("任务超时停止")
			wg.Wait()
			return totals
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		time.Sleep(t.sleepTime)

		go func(userID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := t.syncer.SyncPlatformSales(ctx, userID, service.SyncOptions{})

			mu.Lock()
			defer mu.Unlock()
			totals.Users++
			if err != nil {
				totals.Errored++
				t.log.Warn("用户同步失败", zap.Int64("user_id", userID), zap.Error(err))
				return
			}
			totals.Synced += res.Synced
			totals.Failed += len(res.Errors)
		}(uid)
	}

	wg.Wait()
	t.log.Info("本轮销售同步完成",
		zap.Int("users", totals.Users),
		zap.Int("synced", totals.Synced),
		zap.Int("failed", totals.Failed))
	return totals
}

package task

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fliptools/internal/model"
	"fliptools/internal/repository"
)

// TokenRefresher 刷新 Token 并落库
type TokenRefresher interface {
	Refresh(ctx context.Context, conn *model.PlatformConnection) (string, error)
}

// TokenTask 在 Token 过期前主动刷新，避免同步时才发现失效
type TokenTask struct {
	conns  repository.ConnectionRepository
	tokens TokenRefresher
	cron   *cron.Cron
	spec   string
	log    *zap.Logger

	// 提前刷新的窗口，需大于 TokenManager 的缓冲期
	window time.Duration
	// 控制并发刷新的数量
	concurrencyLimit int
	sleepTime        time.Duration
	now              func() time.Time
}

func NewTokenTask(conns repository.ConnectionRepository, tokens TokenRefresher, spec string, window time.Duration, log *zap.Logger) *TokenTask {
	if spec == "" {
		spec = "0 0/20 * * * *"
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &TokenTask{
		conns:            conns,
		tokens:           tokens,
		cron:             cron.New(cron.WithSeconds()),
		spec:             spec,
		log:              log.Named("token_task"),
		window:           window,
		concurrencyLimit: 10,
		sleepTime:        50 * time.Millisecond,
		now:              time.Now,
	}
}

// Start 启动定时任务，首轮立即执行
func (t *TokenTask) Start() error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.RunOnce(ctx)
	}()

	if _, err := t.cron.AddFunc(t.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		t.RunOnce(ctx)
	}); err != nil {
		return err
	}

	t.cron.Start()
	t.log.Info("Token 保活任务已启动", zap.String("spec", t.spec), zap.Duration("window", t.window))
	return nil
}

// Stop 等待进行中的任务结束
func (t *TokenTask) Stop() {
	<-t.cron.Stop().Done()
}

// RunOnce 刷新窗口内即将过期的连接，返回刷新失败数
func (t *TokenTask) RunOnce(ctx context.Context) int {
	conns, err := t.conns.FindExpiring(ctx, t.now().Add(t.window))
	if err != nil {
		t.log.Error("查询即将过期的连接失败", zap.Error(err))
		return 0
	}
	if len(conns) == 0 {
		return 0
	}

	// 信号量控制并发
	sem := make(chan struct{}, t.concurrencyLimit)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	t.log.Info("开始刷新 Token", zap.Int("count", len(conns)), zap.Int("concurrency", t.concurrencyLimit))

	for i := range conns {
		select {
		case <-ctx.Done():
			t.log.Warn("Token 刷新超时停止")
			wg.Wait()
			return failed
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		time.Sleep(t.sleepTime)

		go func(conn model.PlatformConnection) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := t.tokens.Refresh(ctx, &conn); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				t.log.Warn("Token 刷新失败",
					zap.Int64("user_id", conn.UserID),
					zap.String("platform", conn.Platform.String()),
					zap.Error(err))
			}
		}(conns[i])
	}

	wg.Wait()
	t.log.Info("本轮 Token 刷新完成", zap.Int("failed", failed))
	return failed
}

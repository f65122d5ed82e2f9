package task

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fliptools/internal/repository"
)

// ==================== TaskManager 后台任务管理器 ====================

// TaskManager 统一管理销售同步与 Token 保活
type TaskManager struct {
	salesTask *SalesSyncTask
	tokenTask *TokenTask
	log       *zap.Logger
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	Conns  repository.ConnectionRepository
	Syncer SalesSyncer
	Tokens TokenRefresher
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	SalesEnabled     bool
	SalesCron        string
	SalesConcurrency int

	TokenEnabled bool
	TokenCron    string
	// Token 提前刷新窗口
	RefreshWindow time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		SalesEnabled:     true,
		SalesCron:        "0 */30 * * * *",
		SalesConcurrency: 5,
		TokenEnabled:     true,
		TokenCron:        "0 0/20 * * * *",
		RefreshWindow:    30 * time.Minute,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig, log *zap.Logger) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tm := &TaskManager{log: log.Named("task_manager")}

	if cfg.SalesEnabled && deps.Syncer != nil {
		tm.salesTask = NewSalesSyncTask(deps.Conns, deps.Syncer, cfg.SalesCron, log)
		tm.salesTask.SetConcurrency(cfg.SalesConcurrency, 200*time.Millisecond)
	}
	if cfg.TokenEnabled && deps.Tokens != nil {
		tm.tokenTask = NewTokenTask(deps.Conns, deps.Tokens, cfg.TokenCron, cfg.RefreshWindow, log)
	}
	return tm
}

// ==================== 生命周期管理 ====================

// Start 启动所有任务
func (tm *TaskManager) Start() error {
	if tm.tokenTask != nil {
		if err := tm.tokenTask.Start(); err != nil {
			return err
		}
	}
	if tm.salesTask != nil {
		if err := tm.salesTask.Start(); err != nil {
			return err
		}
	}
	tm.log.Info("后台任务已全部启动", zap.Any("status", tm.Status()))
	return nil
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	if tm.salesTask != nil {
		tm.salesTask.Stop()
	}
	if tm.tokenTask != nil {
		tm.tokenTask.Stop()
	}
	tm.log.Info("后台任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerSalesSync 立即执行一轮销售同步
func (tm *TaskManager) TriggerSalesSync(ctx context.Context) (SyncTotals, error) {
	if tm.salesTask == nil {
		return SyncTotals{}, ErrTaskDisabled
	}
	return tm.salesTask.RunOnce(ctx), nil
}

// TriggerTokenRefresh 立即执行一轮 Token 保活
func (tm *TaskManager) TriggerTokenRefresh(ctx context.Context) (int, error) {
	if tm.tokenTask == nil {
		return 0, ErrTaskDisabled
	}
	return tm.tokenTask.RunOnce(ctx), nil
}

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]bool {
	return map[string]bool{
		"sales": tm.salesTask != nil,
		"token": tm.tokenTask != nil,
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)

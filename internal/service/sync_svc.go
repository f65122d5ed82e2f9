package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/pkg/marketplace"
)

const (
	DefaultSyncCooldown = 2 * time.Minute
	DefaultRunTimeout   = 10 * time.Minute
	// 增量同步回看窗口，覆盖晚付款的订单，重复的由去重跳过
	incrementalOverlap = 72 * time.Hour
)

// CooldownStore 同步冷却存储
type CooldownStore interface {
	Mark(ctx context.Context, key string, ttl time.Duration) error
	Active(ctx context.Context, key string) (bool, error)
}

// SyncOptions 同步参数
type SyncOptions struct {
	StartDate *time.Time
	Limit     int
	// Force 跳过冷却，且不复用进行中的同步
	Force bool
}

// SyncError 单平台失败原因
type SyncError struct {
	Platform  model.Platform `json:"platform"`
	Reason    string         `json:"reason"`
	Reconnect bool           `json:"reconnect"`
}

// SyncResult 一次同步的汇总
// Synced 只计新插入的行，已存在的计入 AlreadyPresent
type SyncResult struct {
	RunID          string           `json:"run_id"`
	Synced         int              `json:"synced"`
	Fetched        int              `json:"fetched"`
	AlreadyPresent int              `json:"already_present"`
	Attempted      int              `json:"attempted"`
	Skipped        []model.Platform `json:"skipped"`
	Errors         []SyncError      `json:"errors"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
}

// Summary 形如 "2 platforms synced, 1 failed: [etsy: ...]"
func (r *SyncResult) Summary() string {
	ok := r.Attempted - len(r.Errors)
	if len(r.Errors) == 0 {
		return fmt.Sprintf("%d platforms synced", ok)
	}
	reasons := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		reasons = append(reasons, fmt.Sprintf("%s: %s", e.Platform, e.Reason))
	}
	return fmt.Sprintf("%d platforms synced, %d failed: [%s]", ok, len(r.Errors), strings.Join(reasons, "; "))
}

// syncRun 进行中的同步，done 关闭后 result/err 可读
type syncRun struct {
	done   chan struct{}
	result *SyncResult
	err    error
}

// SyncService 多平台销售同步
type SyncService struct {
	conns     repository.ConnectionRepository
	registry  *marketplace.Registry
	tokens    *TokenManager
	importer  *SaleImporter
	cooldowns CooldownStore

	cooldown   time.Duration
	runTimeout time.Duration
	now        func() time.Time
	log        *zap.Logger

	mu       sync.Mutex
	inflight map[int64]*syncRun
}

// SyncServiceConfig 同步参数
type SyncServiceConfig struct {
	Cooldown   time.Duration
	RunTimeout time.Duration
}

func NewSyncService(
	conns repository.ConnectionRepository,
	registry *marketplace.Registry,
	tokens *TokenManager,
	importer *SaleImporter,
	cooldowns CooldownStore,
	cfg SyncServiceConfig,
	log *zap.Logger,
) *SyncService {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultSyncCooldown
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	return &SyncService{
		conns:      conns,
		registry:   registry,
		tokens:     tokens,
		importer:   importer,
		cooldowns:  cooldowns,
		cooldown:   cfg.Cooldown,
		runTimeout: cfg.RunTimeout,
		now:        time.Now,
		log:        log.Named("sync"),
		inflight:   make(map[int64]*syncRun),
	}
}

func cooldownKey(userID int64, platform model.Platform) string {
	return fmt.Sprintf("cooldown:%d:%s", userID, platform)
}

// SyncPlatformSales 依次同步用户已连接的所有平台
// 单平台失败只记录到 Errors，不影响其他平台；同一用户已有同步进行时，
// 非强制调用等待并共享其结果，即使其 StartDate/Limit 与进行中的那次不同
func (s *SyncService) SyncPlatformSales(ctx context.Context, userID int64, opts SyncOptions) (*SyncResult, error) {
	s.mu.Lock()
	if run, ok := s.inflight[userID]; ok && !opts.Force {
		s.mu.Unlock()
		s.log.Debug("同步进行中，等待结果", zap.Int64("user_id", userID))
		select {
		case <-run.done:
			return run.result, run.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	run := &syncRun{done: make(chan struct{})}
	s.inflight[userID] = run
	s.mu.Unlock()

	defer func() {
		close(run.done)
		s.mu.Lock()
		if s.inflight[userID] == run {
			delete(s.inflight, userID)
		}
		s.mu.Unlock()
	}()

	// 调用方断开不中断同步，只受运行超时约束
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	defer cancel()

	run.result, run.err = s.run(runCtx, userID, opts)
	return run.result, run.err
}

func (s *SyncService) run(ctx context.Context, userID int64, opts SyncOptions) (*SyncResult, error) {
	result := &SyncResult{
		RunID:     uuid.NewString(),
		Skipped:   []model.Platform{},
		Errors:    []SyncError{},
		StartedAt: s.now(),
	}
	log := s.log.With(zap.String("run_id", result.RunID), zap.Int64("user_id", userID))

	conns, err := s.conns.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询平台连接失败: %w", err)
	}

	for i := range conns {
		conn := conns[i]

		if !opts.Force && s.coolingDown(ctx, log, userID, conn.Platform) {
			result.Skipped = append(result.Skipped, conn.Platform)
			continue
		}

		result.Attempted++
		if err := s.syncOne(ctx, &conn, opts, result); err != nil {
			result.Errors = append(result.Errors, toSyncError(conn.Platform, err))
			log.Warn("平台同步失败", zap.String("platform", conn.Platform.String()), zap.Error(err))
			continue
		}

		if err := s.cooldowns.Mark(ctx, cooldownKey(userID, conn.Platform), s.cooldown); err != nil {
			log.Warn("写入同步冷却失败", zap.String("platform", conn.Platform.String()), zap.Error(err))
		}
		if err := s.conns.UpdateLastSynced(ctx, conn.ID, s.now()); err != nil {
			log.Warn("更新同步时间失败", zap.String("platform", conn.Platform.String()), zap.Error(err))
		}
	}

	result.FinishedAt = s.now()
	log.Info("同步完成",
		zap.Int("synced", result.Synced),
		zap.Int("fetched", result.Fetched),
		zap.Int("already_present", result.AlreadyPresent),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Errors)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	return result, nil
}

// coolingDown 冷却存储异常时按未冷却处理
func (s *SyncService) coolingDown(ctx context.Context, log *zap.Logger, userID int64, platform model.Platform) bool {
	active, err := s.cooldowns.Active(ctx, cooldownKey(userID, platform))
	if err != nil {
		log.Warn("读取同步冷却失败", zap.String("platform", platform.String()), zap.Error(err))
		return false
	}
	return active
}

// syncOne 单平台：Token -> 拉取 -> 去重入库，panic 也转成错误
func (s *SyncService) syncOne(ctx context.Context, conn *model.PlatformConnection, opts SyncOptions, result *SyncResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	adapter, err := s.registry.Get(conn.Platform)
	if err != nil {
		return err
	}

	token, err := s.tokens.EnsureToken(ctx, conn)
	if err != nil {
		return err
	}

	records, err := adapter.GetSales(ctx, marketplace.Credentials{
		AccessToken: token,
		AccountID:   conn.AccountID,
	}, marketplace.SalesQuery{
		StartDate: s.startDate(conn, opts),
		Limit:     opts.Limit,
	})
	if err != nil {
		return err
	}
	imported, err := s.importer.Import(ctx, conn.UserID, conn.Platform, records)
	if err != nil {
		return err
	}
	// 只统计成功入库平台的拉取数
	result.Fetched += len(records)
	result.Synced += imported.Inserted
	result.AlreadyPresent += imported.AlreadyPresent
	return nil
}

// startDate 未指定时从上次同步时间回看一段
func (s *SyncService) startDate(conn *model.PlatformConnection, opts SyncOptions) *time.Time {
	if opts.StartDate != nil {
		return opts.StartDate
	}
	if conn.LastSyncedAt == nil {
		return nil
	}
	from := conn.LastSyncedAt.Add(-incrementalOverlap)
	return &from
}

func toSyncError(platform model.Platform, err error) SyncError {
	var refreshErr *marketplace.TokenRefreshError
	if errors.As(err, &refreshErr) {
		return SyncError{Platform: platform, Reason: refreshErr.UserMessage(), Reconnect: true}
	}
	return SyncError{Platform: platform, Reason: err.Error()}
}

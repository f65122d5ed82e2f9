package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fliptools/internal/model"
)

// ==================== ConnectionRepository 平台授权仓库 ====================

// ConnectionRepository 平台连接仓库接口
type ConnectionRepository interface {
	// Get 未连接时返回 nil, nil
	Get(ctx context.Context, userID int64, platform model.Platform) (*model.PlatformConnection, error)
	ListByUser(ctx context.Context, userID int64) ([]model.PlatformConnection, error)
	ListPlatforms(ctx context.Context, userID int64) ([]model.Platform, error)
	Create(ctx context.Context, conn *model.PlatformConnection) error
	// Upsert 按 (user_id, platform) 覆盖
	Upsert(ctx context.Context, conn *model.PlatformConnection) error
	Delete(ctx context.Context, userID int64, platform model.Platform) (bool, error)

	// Token 相关
	UpdateToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateTokenStatus(ctx context.Context, id int64, tokenStatus string) error
	UpdateLastSynced(ctx context.Context, id int64, at time.Time) error

	// 定时任务
	ListUserIDs(ctx context.Context) ([]int64, error)
	FindExpiring(ctx context.Context, before time.Time) ([]model.PlatformConnection, error)
}

type connectionRepo struct {
	db *gorm.DB
}

// NewConnectionRepository 创建平台连接仓库
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) Get(ctx context.Context, userID int64, platform model.Platform) (*model.PlatformConnection, error) {
	var conn model.PlatformConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepo) ListByUser(ctx context.Context, userID int64) ([]model.PlatformConnection, error) {
	var conns []model.PlatformConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&conns).Error
	return conns, err
}

func (r *connectionRepo) ListPlatforms(ctx context.Context, userID int64) ([]model.Platform, error) {
	var platforms []model.Platform
	err := r.db.WithContext(ctx).
		Model(&model.PlatformConnection{}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Pluck("platform", &platforms).Error
	return platforms, err
}

func (r *connectionRepo) Create(ctx context.Context, conn *model.PlatformConnection) error {
	if conn.TokenStatus == "" {
		conn.TokenStatus = model.TokenStatusValid
	}
	return r.db.WithContext(ctx).Create(conn).Error
}

func (r *connectionRepo) Upsert(ctx context.Context, conn *model.PlatformConnection) error {
	if conn.TokenStatus == "" {
		conn.TokenStatus = model.TokenStatusValid
	}
	columns := []string{"access_token", "refresh_token", "token_expires_at", "token_status", "connected_at", "updated_at"}
	// 重新授权时店铺信息可能取不到，保留原值
	if conn.AccountID != "" {
		columns = append(columns, "account_id")
	}
	if conn.DisplayName != "" {
		columns = append(columns, "display_name")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(conn).Error
}

// Delete 物理删除，立即生效
func (r *connectionRepo) Delete(ctx context.Context, userID int64, platform model.Platform) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		Delete(&model.PlatformConnection{})
	return result.RowsAffected > 0, result.Error
}

// UpdateToken 刷新成功后一次性写回，同时恢复为有效状态
func (r *connectionRepo) UpdateToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.PlatformConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
			"token_status":     model.TokenStatusValid,
		}).Error
}

func (r *connectionRepo) UpdateTokenStatus(ctx context.Context, id int64, tokenStatus string) error {
	return r.db.WithContext(ctx).
		Model(&model.PlatformConnection{}).
		Where("id = ?", id).
		Update("token_status", tokenStatus).Error
}

func (r *connectionRepo) UpdateLastSynced(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.PlatformConnection{}).
		Where("id = ?", id).
		Update("last_synced_at", at).Error
}

func (r *connectionRepo) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.PlatformConnection{}).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// FindExpiring 有效、可刷新且在 before 之前过期的连接；不过期（零值）的排除
func (r *connectionRepo) FindExpiring(ctx context.Context, before time.Time) ([]model.PlatformConnection, error) {
	var conns []model.PlatformConnection
	err := r.db.WithContext(ctx).
		Where("token_status = ?", model.TokenStatusValid).
		Where("refresh_token <> ''").
		Where("token_expires_at > ? AND token_expires_at < ?", time.Time{}, before).
		Find(&conns).Error
	return conns, err
}

package models

import (
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"gorm.io/gorm"
)

// Asset is owned by the inventory module; the counting core reads it and only ever deactivates it.
type Asset struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Label       string    `gorm:"size:255;not null" json:"label"`
	Category    string    `gorm:"size:100;index;not null" json:"category"`
	SubCategory string    `gorm:"size:100;not null" json:"sub_category"`
	AreaName    string    `gorm:"size:100" json:"area_name"`
	Location    string    `gorm:"size:255" json:"location"`
	IsActive    bool      `gorm:"index;not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type AssetHistory struct {
	ID          int       `gorm:"primary_key" json:"id"`
	AssetId     int       `gorm:"index;not null" json:"asset_id"`
	Description string    `gorm:"type:text;not null" json:"description"`
	UserId      int       `gorm:"index" json:"user_id"`
	UserName    string    `gorm:"size:100" json:"user_name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AssetSource is the live asset roster. Every call runs on the caller's tx so
// write-backs commit or roll back together with the counting change that caused them.
type AssetSource interface {
	ListActive(tx *gorm.DB) ([]Asset, error)
	FindByIds(tx *gorm.DB, ids []int) ([]Asset, error)
	CountActiveByIds(tx *gorm.DB, ids []int) (int64, error)
	Deactivate(tx *gorm.DB, id int) error
	RecordHistory(tx *gorm.DB, id int, description string) error
}

// GormAssetSource reads the assets table directly.
type GormAssetSource struct{}

var _ AssetSource = GormAssetSource{}

func (GormAssetSource) ListActive(tx *gorm.DB) ([]Asset, error) {
	var assets []Asset
	err := tx.Where("is_active = ?", true).Order("id").Find(&assets).Error
	return assets, err
}

func (GormAssetSource) FindByIds(tx *gorm.DB, ids []int) ([]Asset, error) {
	var assets []Asset
	if len(ids) == 0 {
		return assets, nil
	}
	err := tx.Where("id IN ?", utils.UniqueSlice(ids)).Order("id").Find(&assets).Error
	return assets, err
}

func (GormAssetSource) CountActiveByIds(tx *gorm.DB, ids []int) (int64, error) {
	var count int64
	if len(ids) == 0 {
		return 0, nil
	}
	err := tx.Model(&Asset{}).Where("id IN ? AND is_active = ?", utils.UniqueSlice(ids), true).Count(&count).Error
	return count, err
}

func (GormAssetSource) Deactivate(tx *gorm.DB, id int) error {
	result := tx.Model(&Asset{}).Where("id = ?", id).Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NotFoundError("asset_not_found", "asset %d not found", id)
	}
	return nil
}

// RecordHistory stamps the acting user from tx's context; hooks without a user are logged as System.
func (GormAssetSource) RecordHistory(tx *gorm.DB, id int, description string) error {
	ctx := tx.Statement.Context
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok || userName == "" {
		userName = "System"
	}
	history := AssetHistory{
		AssetId:     id,
		Description: description,
		UserId:      userId,
		UserName:    userName,
	}
	return tx.Create(&history).Error
}

func assetsById(assets []Asset) map[int]Asset {
	m := make(map[int]Asset, len(assets))
	for _, a := range assets {
		m[a.ID] = a
	}
	return m
}

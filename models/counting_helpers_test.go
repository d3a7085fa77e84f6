package models

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/metrics"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testNow sits in the second period of the 2025 cycle.
var testNow = time.Date(2024, time.October, 15, 9, 0, 0, 0, time.UTC)

type countingFixture struct {
	t       *testing.T
	db      *gorm.DB
	service *CountingService
	now     time.Time
}

func newCountingFixture(t *testing.T) *countingFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "counting.db")), config.InitConfig())
	require.NoError(t, err)
	require.NoError(t, MigrateTable(db))

	f := &countingFixture{t: t, db: db, now: testNow}
	f.service = NewCountingService(db, GormAssetSource{},
		WithClock(func() time.Time { return f.now }),
		WithCalendar(config.DefaultCountingCalendar),
		WithMetrics(metrics.NewCounting(prometheus.NewRegistry(), "test")),
	)
	return f
}

func actor(userId int, name string) context.Context {
	return utils.SetActorInContext(context.Background(), userId, name)
}

var testCategories = []struct{ category, subCategory string }{
	{"Furniture", "Chairs"},
	{"Furniture", "Desks"},
	{"Computers", "Laptops"},
	{"Computers", "Monitors"},
	{"Vehicles", "Cars"},
}

// seedAssets creates n active assets cycling through testCategories, all in area "Main Hall".
func (f *countingFixture) seedAssets(n int) []Asset {
	f.t.Helper()
	assets := make([]Asset, 0, n)
	for i := 0; i < n; i++ {
		c := testCategories[i%len(testCategories)]
		assets = append(assets, Asset{
			Label:       fmt.Sprintf("AST-%04d", i+1),
			Category:    c.category,
			SubCategory: c.subCategory,
			AreaName:    "Main Hall",
			IsActive:    true,
		})
	}
	if n > 0 {
		require.NoError(f.t, f.db.Create(&assets).Error)
	}
	return assets
}

func (f *countingFixture) deactivate(assetId int) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&Asset{}).Where("id = ?", assetId).Update("is_active", false).Error)
}

func (f *countingFixture) createPlan(year int) *CountingPlan {
	f.t.Helper()
	plan, err := f.service.CreateCountingPlan(actor(1, "Planner"), &NewCountingPlan{Year: year})
	require.NoError(f.t, err)
	return plan
}

func (f *countingFixture) period(id int) *CountingPeriod {
	f.t.Helper()
	p, err := f.service.GetCountingPeriod(context.Background(), id)
	require.NoError(f.t, err)
	return p
}

// countAll submits a found record for every asset of the period.
func (f *countingFixture) countAll(ctx context.Context, period *CountingPeriod) {
	f.t.Helper()
	for _, assetId := range period.Assigned() {
		_, err := f.service.SubmitCountRecord(ctx, &NewCountRecord{
			PeriodId: period.ID,
			AssetId:  assetId,
			IsFound:  boolPtr(true),
		})
		require.NoError(f.t, err)
	}
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func requireReason(t *testing.T, err error, kind utils.ErrorKind, reason string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := utils.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, kind, appErr.Kind)
	require.Equal(t, reason, appErr.Reason)
}

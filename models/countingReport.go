package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

// CountingPlanExport is the read-only projection behind the plan report.
type CountingPlanExport struct {
	Plan        *CountingPlan  `json:"plan"`
	GeneratedAt time.Time      `json:"generated_at"`
	Periods     []PeriodExport `json:"periods"`
}

type PeriodExport struct {
	Period   CountingPeriod   `json:"period"`
	Progress PeriodProgress   `json:"progress"`
	Assets   []ExportAssetRow `json:"assets"`
}

// ExportAssetRow pairs the asset's current roster state with what was counted.
type ExportAssetRow struct {
	AssetId           int               `json:"asset_id"`
	Label             string            `json:"label"`
	Category          string            `json:"category"`
	SubCategory       string            `json:"sub_category"`
	AreaName          string            `json:"area_name"`
	IsActive          bool              `json:"is_active"`
	Counted           bool              `json:"counted"`
	IsFound           *bool             `json:"is_found"`
	ObservedArea      string            `json:"observed_area"`
	ObservedCondition string            `json:"observed_condition"`
	DiscrepancyType   DiscrepancyType   `json:"discrepancy_type"`
	RecordStatus      CountRecordStatus `json:"record_status"`
	CountedByName     string            `json:"counted_by_name"`
}

type PeriodDeadline struct {
	Period        CountingPeriod `json:"period"`
	DaysRemaining int            `json:"days_remaining"`
}

// PlanDeadlineAlert lists the periods of one plan whose deadline is close.
type PlanDeadlineAlert struct {
	Plan    CountingPlan     `json:"plan"`
	Periods []PeriodDeadline `json:"periods"`
}

func (s *CountingService) GetCountingPlanExport(ctx context.Context, id int) (*CountingPlanExport, error) {
	db := s.db.WithContext(ctx)
	plan, err := s.loadPlan(db, id)
	if err != nil {
		return nil, err
	}

	var allIds []int
	periodIds := make([]int, 0, len(plan.Periods))
	for _, p := range plan.Periods {
		allIds = append(allIds, p.Assigned()...)
		periodIds = append(periodIds, p.ID)
	}
	assets, err := s.assets.FindByIds(db, allIds)
	if err != nil {
		return nil, err
	}
	byId := assetsById(assets)

	var records []CountRecord
	if len(periodIds) > 0 {
		if err := db.Where("period_id IN ?", periodIds).Find(&records).Error; err != nil {
			return nil, err
		}
	}
	type recordKey struct{ periodId, assetId int }
	recordsByKey := make(map[recordKey]CountRecord, len(records))
	for _, r := range records {
		recordsByKey[recordKey{r.PeriodId, r.AssetId}] = r
	}

	now := s.now()
	export := &CountingPlanExport{Plan: plan, GeneratedAt: now}
	for _, period := range plan.Periods {
		row := PeriodExport{Period: period, Progress: period.Progress(now)}
		for _, assetId := range period.Assigned() {
			asset := byId[assetId]
			line := ExportAssetRow{
				AssetId:     assetId,
				Label:       asset.Label,
				Category:    asset.Category,
				SubCategory: asset.SubCategory,
				AreaName:    asset.AreaName,
				IsActive:    asset.IsActive,
			}
			if r, ok := recordsByKey[recordKey{period.ID, assetId}]; ok {
				found := r.IsFound
				line.Counted = true
				line.IsFound = &found
				line.ObservedArea = r.ObservedArea
				line.ObservedCondition = r.ObservedCondition
				line.DiscrepancyType = r.DiscrepancyType
				line.RecordStatus = r.Status
				line.CountedByName = r.CountedByName
			}
			row.Assets = append(row.Assets, line)
		}
		export.Periods = append(export.Periods, row)
	}
	return export, nil
}

// ListPlansNearingDeadline returns open periods whose deadline falls within days from now, grouped by plan.
func (s *CountingService) ListPlansNearingDeadline(ctx context.Context, days int) ([]PlanDeadlineAlert, error) {
	if days < 0 {
		return nil, utils.ValidationError(ReasonInvalidDays, "days must not be negative, got %d", days)
	}
	now := s.now()
	horizon := now.AddDate(0, 0, days)

	db := s.db.WithContext(ctx)
	var periods []CountingPeriod
	err := db.Joins("JOIN counting_plans ON counting_plans.id = counting_periods.plan_id").
		Where("counting_periods.status IN ?", []CountingPeriodStatus{CountingPeriodStatusPending, CountingPeriodStatusInProgress}).
		Where("counting_plans.status IN ?", []CountingPlanStatus{CountingPlanStatusPlanned, CountingPlanStatusInProgress}).
		Where("counting_periods.deadline BETWEEN ? AND ?", now, horizon).
		Order("counting_periods.plan_id, counting_periods.sequence").
		Find(&periods).Error
	if err != nil {
		return nil, err
	}

	var alerts []PlanDeadlineAlert
	index := make(map[int]int)
	for _, p := range periods {
		i, ok := index[p.PlanId]
		if !ok {
			plan, err := utils.FetchModel[CountingPlan](db, p.PlanId, "plan")
			if err != nil {
				return nil, err
			}
			alerts = append(alerts, PlanDeadlineAlert{Plan: *plan})
			i = len(alerts) - 1
			index[p.PlanId] = i
		}
		alerts[i].Periods = append(alerts[i].Periods, PeriodDeadline{Period: p, DaysRemaining: p.DaysRemaining(now)})
	}
	return alerts, nil
}

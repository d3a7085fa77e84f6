package models

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CountingPeriod is one monthly batch of a plan.
type CountingPeriod struct {
	ID                 int                                `gorm:"primary_key" json:"id"`
	PlanId             int                                `gorm:"uniqueIndex:idx_counting_period_plan_sequence;not null" json:"plan_id"`
	Sequence           int                                `gorm:"uniqueIndex:idx_counting_period_plan_sequence;not null" json:"sequence"`
	Name               string                             `gorm:"size:100;not null" json:"name"`
	Month              int                                `gorm:"not null" json:"month"`
	Year               int                                `gorm:"not null" json:"year"`
	Status             CountingPeriodStatus               `gorm:"size:20;index;not null" json:"status"`
	AssignedPercentage decimal.Decimal                    `gorm:"type:decimal(5,2);default:0" json:"assigned_percentage"`
	AssetIds           datatypes.JSONType[[]int]          `json:"asset_ids"`
	AssignedCount      int                                `gorm:"not null;default:0" json:"assigned_count"`
	Grouping           datatypes.JSONType[PeriodGrouping] `json:"grouping"`
	Criterion          string                             `gorm:"size:500" json:"criterion"`
	StartDate          time.Time                          `gorm:"not null" json:"start_date"`
	Deadline           time.Time                          `gorm:"index;not null" json:"deadline"`
	CountedAssets      int                                `gorm:"not null;default:0" json:"counted_assets"`
	FoundAssets        int                                `gorm:"not null;default:0" json:"found_assets"`
	MissingAssets      int                                `gorm:"not null;default:0" json:"missing_assets"`
	DiscrepancyAssets  int                                `gorm:"not null;default:0" json:"discrepancy_assets"`
	IsConfirmed        bool                               `gorm:"not null;default:false" json:"is_confirmed"`
	ConfirmedBy        *int                               `json:"confirmed_by"`
	ConfirmedByName    string                             `gorm:"size:100" json:"confirmed_by_name"`
	ConfirmedAt        *time.Time                         `json:"confirmed_at"`
	CreatedAt          time.Time                          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                          `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodProgress holds the derived read-only figures of a period.
type PeriodProgress struct {
	PercentComplete int  `json:"percent_complete"`
	FoundRate       int  `json:"found_rate"`
	DaysRemaining   int  `json:"days_remaining"`
	IsFullyCounted  bool `json:"is_fully_counted"`
}

// PeriodConfirmation is returned by ConfirmCountingPeriod.
type PeriodConfirmation struct {
	Period              *CountingPeriod `json:"period"`
	DeactivatedAssetIds []int           `json:"deactivated_asset_ids"`
}

func (p *CountingPeriod) Assigned() []int {
	return p.AssetIds.Data()
}

func (p *CountingPeriod) HasAsset(assetId int) bool {
	return utils.Contains(p.Assigned(), assetId)
}

func (p *CountingPeriod) PercentComplete() int {
	return utils.PercentOf(p.CountedAssets, p.AssignedCount)
}

func (p *CountingPeriod) FoundRate() int {
	return utils.PercentOf(p.FoundAssets, p.CountedAssets)
}

// DaysRemaining rounds up to whole days; overdue periods are negative.
func (p *CountingPeriod) DaysRemaining(now time.Time) int {
	return int(math.Ceil(p.Deadline.Sub(now).Hours() / 24))
}

func (p *CountingPeriod) IsFullyCounted() bool {
	return p.AssignedCount > 0 && p.CountedAssets == p.AssignedCount
}

func (p *CountingPeriod) Progress(now time.Time) PeriodProgress {
	return PeriodProgress{
		PercentComplete: p.PercentComplete(),
		FoundRate:       p.FoundRate(),
		DaysRemaining:   p.DaysRemaining(now),
		IsFullyCounted:  p.IsFullyCounted(),
	}
}

// appendAssets keeps AssetIds, AssignedCount and Grouping in step.
func (p *CountingPeriod) appendAssets(assets []Asset) {
	ids := p.Assigned()
	grouping := p.Grouping.Data()
	if grouping == nil {
		grouping = make(PeriodGrouping)
	}
	for _, a := range assets {
		ids = append(ids, a.ID)
		grouping.add(a.Category, a.SubCategory, a.ID)
	}
	p.AssetIds = datatypes.NewJSONType(ids)
	p.Grouping = datatypes.NewJSONType(grouping)
	p.AssignedCount += len(assets)
}

func (p *CountingPeriod) removeAsset(assetId int) {
	p.AssetIds = datatypes.NewJSONType(utils.RemoveInt(p.Assigned(), assetId))
	grouping := p.Grouping.Data()
	if grouping != nil {
		grouping.remove(assetId)
		p.Grouping = datatypes.NewJSONType(grouping)
	}
	p.AssignedCount = max(p.AssignedCount-1, 0)
}

func periodName(sequence int, start time.Time) string {
	return fmt.Sprintf("Period %d - %s %d", sequence, start.Month(), start.Year())
}

func (s *CountingService) GetCountingPeriod(ctx context.Context, id int) (*CountingPeriod, error) {
	return utils.FetchModel[CountingPeriod](s.db.WithContext(ctx), id, "period")
}

func (s *CountingService) StartCountingPeriod(ctx context.Context, id int) (*CountingPeriod, error) {
	return s.transitionPeriod(ctx, "StartCountingPeriod", id, CountingPeriodStatusPending, CountingPeriodStatusInProgress)
}

func (s *CountingService) CompleteCountingPeriod(ctx context.Context, id int) (*CountingPeriod, error) {
	return s.transitionPeriod(ctx, "CompleteCountingPeriod", id, CountingPeriodStatusInProgress, CountingPeriodStatusCompleted)
}

func (s *CountingService) transitionPeriod(ctx context.Context, op string, id int, from, to CountingPeriodStatus) (*CountingPeriod, error) {
	var period *CountingPeriod
	err := s.inTx(ctx, op, func(tx *gorm.DB) error {
		var err error
		period, err = utils.FetchModelForUpdate[CountingPeriod](tx, id, "period")
		if err != nil {
			return err
		}
		if period.Status != from {
			return utils.ConflictError(ReasonInvalidPeriodState, "%s is %s, expected %s", period.Name, period.Status, from)
		}
		if err := tx.Model(period).Update("status", to).Error; err != nil {
			return err
		}
		period.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"module":   countingModule,
		"funcName": op,
		"periodId": id,
		"status":   to,
	}).Info("counting period transitioned")
	return period, nil
}

// RecomputePeriodProgress recounts the period's records, then the plan totals.
func (s *CountingService) RecomputePeriodProgress(ctx context.Context, id int) (*CountingPeriod, error) {
	var period *CountingPeriod
	err := s.inTx(ctx, "RecomputePeriodProgress", func(tx *gorm.DB) error {
		var err error
		period, err = s.recomputeCascade(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}

// recomputeCascade refreshes period counters and then plan counters, in that order.
func (s *CountingService) recomputeCascade(tx *gorm.DB, periodId int) (*CountingPeriod, error) {
	period, err := s.recomputePeriodProgress(tx, periodId)
	if err != nil {
		return nil, err
	}
	if _, err := s.recomputePlanStatistics(tx, period.PlanId); err != nil {
		return nil, err
	}
	return period, nil
}

func (s *CountingService) recomputePeriodProgress(tx *gorm.DB, periodId int) (*CountingPeriod, error) {
	period, err := utils.FetchModel[CountingPeriod](tx, periodId, "period")
	if err != nil {
		return nil, err
	}
	var totals struct {
		Counted       int
		Found         int
		Missing       int
		Discrepancies int
	}
	err = tx.Model(&CountRecord{}).
		Select(`COUNT(*) AS counted,
			COALESCE(SUM(CASE WHEN is_found THEN 1 ELSE 0 END), 0) AS found,
			COALESCE(SUM(CASE WHEN is_found THEN 0 ELSE 1 END), 0) AS missing,
			COALESCE(SUM(CASE WHEN has_discrepancy THEN 1 ELSE 0 END), 0) AS discrepancies`).
		Where("period_id = ?", periodId).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	err = tx.Model(&CountingPeriod{}).Where("id = ?", periodId).Updates(map[string]interface{}{
		"counted_assets":     totals.Counted,
		"found_assets":       totals.Found,
		"missing_assets":     totals.Missing,
		"discrepancy_assets": totals.Discrepancies,
	}).Error
	if err != nil {
		return nil, err
	}
	period.CountedAssets = totals.Counted
	period.FoundAssets = totals.Found
	period.MissingAssets = totals.Missing
	period.DiscrepancyAssets = totals.Discrepancies
	return period, nil
}

// ConfirmCountingPeriod locks a fully counted period and writes back
// inactive-condition assets to the roster.
func (s *CountingService) ConfirmCountingPeriod(ctx context.Context, id int) (*PeriodConfirmation, error) {
	userId, userName, err := actorFromContext(ctx)
	if err != nil {
		s.reject("ConfirmCountingPeriod", err)
		return nil, err
	}
	release, err := utils.ResourceLock(ctx, s.locker, s.logger, "counting_period", id, countingModule, "ConfirmCountingPeriod")
	if err != nil {
		s.reject("ConfirmCountingPeriod", err)
		return nil, err
	}
	defer release()

	result := &PeriodConfirmation{}
	err = s.inTx(ctx, "ConfirmCountingPeriod", func(tx *gorm.DB) error {
		period, err := utils.FetchModelForUpdate[CountingPeriod](tx, id, "period")
		if err != nil {
			return err
		}
		if period.IsConfirmed {
			return utils.ConflictError(ReasonPeriodConfirmed, "%s is already confirmed", period.Name)
		}
		plan, err := utils.FetchModel[CountingPlan](tx, period.PlanId, "plan")
		if err != nil {
			return err
		}
		if plan.Status.IsTerminal() {
			return utils.ConflictError(ReasonInvalidPlanState, "plan %d is %s; its periods can no longer be confirmed", plan.Year, plan.Status)
		}
		activeCount, err := s.assets.CountActiveByIds(tx, period.Assigned())
		if err != nil {
			return err
		}
		if int64(period.CountedAssets) < activeCount {
			return utils.ConflictError(ReasonIncompleteCount, "%s has %d of %d active assets counted", period.Name, period.CountedAssets, activeCount)
		}

		now := s.now()
		period.IsConfirmed = true
		period.ConfirmedAt = &now
		period.ConfirmedBy = &userId
		period.ConfirmedByName = userName
		period.Status = CountingPeriodStatusClosed
		if err := tx.Save(period).Error; err != nil {
			return err
		}
		result.Period = period

		deactivated, err := s.deactivateInactiveAssets(tx, period)
		if err != nil {
			return err
		}
		result.DeactivatedAssetIds = deactivated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PeriodConfirmed(len(result.DeactivatedAssetIds))
	s.logger.WithFields(logrus.Fields{
		"module":      countingModule,
		"funcName":    "ConfirmCountingPeriod",
		"periodId":    id,
		"confirmedBy": userId,
		"deactivated": len(result.DeactivatedAssetIds),
	}).Info("counting period confirmed")
	return result, nil
}

func (s *CountingService) deactivateInactiveAssets(tx *gorm.DB, period *CountingPeriod) ([]int, error) {
	var records []CountRecord
	if err := tx.Where("period_id = ?", period.ID).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}
	conditionByAsset := make(map[int]string)
	var candidates []int
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.ObservedCondition), "inactive") {
			conditionByAsset[r.AssetId] = r.ObservedCondition
			candidates = append(candidates, r.AssetId)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	assets, err := s.assets.FindByIds(tx, candidates)
	if err != nil {
		return nil, err
	}
	var deactivated []int
	for _, a := range assets {
		if !a.IsActive {
			continue
		}
		if err := s.assets.Deactivate(tx, a.ID); err != nil {
			return nil, err
		}
		description := fmt.Sprintf("Deactivated on confirmation of %s (observed condition: %s)", period.Name, conditionByAsset[a.ID])
		if err := s.assets.RecordHistory(tx, a.ID, description); err != nil {
			return nil, err
		}
		deactivated = append(deactivated, a.ID)
	}
	return deactivated, nil
}

// RemoveAssetFromPeriods drops an asset deactivated elsewhere from every unconfirmed
// period of an open plan holding it.
func (s *CountingService) RemoveAssetFromPeriods(ctx context.Context, assetId int) ([]CountingPeriod, error) {
	var affected []CountingPeriod
	err := s.inTx(ctx, "RemoveAssetFromPeriods", func(tx *gorm.DB) error {
		var periods []CountingPeriod
		openPlans := tx.Model(&CountingPlan{}).Select("id").
			Where("status IN ?", []CountingPlanStatus{CountingPlanStatusPlanned, CountingPlanStatusInProgress})
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("is_confirmed = ? AND plan_id IN (?)", false, openPlans).
			Order("plan_id, sequence").
			Find(&periods).Error
		if err != nil {
			return err
		}
		for i := range periods {
			period := &periods[i]
			if !period.HasAsset(assetId) {
				continue
			}
			if err := tx.Where("period_id = ? AND asset_id = ?", period.ID, assetId).Delete(&CountRecord{}).Error; err != nil {
				return err
			}
			period.removeAsset(assetId)
			if err := tx.Save(period).Error; err != nil {
				return err
			}
			refreshed, err := s.recomputeCascade(tx, period.ID)
			if err != nil {
				return err
			}
			description := fmt.Sprintf("Removed from %s after deactivation", period.Name)
			if err := s.assets.RecordHistory(tx, assetId, description); err != nil {
				return err
			}
			affected = append(affected, *refreshed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(affected) > 0 {
		s.logger.WithFields(logrus.Fields{
			"module":   countingModule,
			"funcName": "RemoveAssetFromPeriods",
			"assetId":  assetId,
			"periods":  len(affected),
		}).Info("asset removed from counting periods")
	}
	return affected, nil
}

package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CountingPlan is the counting campaign of one fiscal year.
type CountingPlan struct {
	ID                int                                   `gorm:"primary_key" json:"id"`
	Year              int                                   `gorm:"uniqueIndex;not null" json:"year"`
	CycleStart        time.Time                             `gorm:"not null" json:"cycle_start"`
	CycleEnd          time.Time                             `gorm:"not null" json:"cycle_end"`
	Status            CountingPlanStatus                    `gorm:"size:20;index;not null" json:"status"`
	TotalAssets       int                                   `gorm:"not null;default:0" json:"total_assets"`
	TargetPerPeriod   int                                   `gorm:"not null;default:0" json:"target_per_period"`
	ToleranceMin      int                                   `gorm:"not null;default:0" json:"tolerance_min"`
	ToleranceMax      int                                   `gorm:"not null;default:0" json:"tolerance_max"`
	CountedAssets     int                                   `gorm:"not null;default:0" json:"counted_assets"`
	FoundAssets       int                                   `gorm:"not null;default:0" json:"found_assets"`
	MissingAssets     int                                   `gorm:"not null;default:0" json:"missing_assets"`
	DiscrepancyAssets int                                   `gorm:"not null;default:0" json:"discrepancy_assets"`
	Notes             string                                `gorm:"type:text" json:"notes"`
	Stats             datatypes.JSONType[DistributionStats] `json:"stats"`
	CreatedBy         int                                   `gorm:"index;not null" json:"created_by"`
	CreatedByName     string                                `gorm:"size:100" json:"created_by_name"`
	Periods           []CountingPeriod                      `gorm:"foreignKey:PlanId" json:"periods,omitempty"`
	CreatedAt         time.Time                             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                             `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCountingPlan struct {
	Year         int    `json:"year" validate:"required,min=2000,max=2999"`
	TotalPeriods int    `json:"total_periods" validate:"min=0"`
	Notes        string `json:"notes"`
}

// RedistributionResult reports where newly discovered assets went.
type RedistributionResult struct {
	Plan          *CountingPlan `json:"plan"`
	Distributed   int           `json:"distributed"`
	AddedByPeriod map[int]int   `json:"added_by_period"`
}

func (p *CountingPlan) PercentComplete() int {
	return utils.PercentOf(p.CountedAssets, p.TotalAssets)
}

func (p *CountingPlan) FoundRate() int {
	return utils.PercentOf(p.FoundAssets, p.CountedAssets)
}

// appendNote adds a stamped line to the plan notes; blank reasons add nothing.
func (p *CountingPlan) appendNote(label string, reason string, at time.Time) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	line := fmt.Sprintf("[%s %s] %s", label, at.Format("2006-01-02"), reason)
	if strings.TrimSpace(p.Notes) == "" {
		p.Notes = line
		return
	}
	p.Notes = p.Notes + "\n" + line
}

func preloadPeriodsBySequence(db *gorm.DB) *gorm.DB {
	return db.Order("sequence")
}

func (s *CountingService) loadPlan(tx *gorm.DB, id int) (*CountingPlan, error) {
	var plan CountingPlan
	err := tx.Preload("Periods", preloadPeriodsBySequence).First(&plan, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NotFoundError("plan_not_found", "plan %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// lockPlanPeriods returns the plan's periods ordered by sequence, row-locked for tx.
func lockPlanPeriods(tx *gorm.DB, planId int) ([]CountingPeriod, error) {
	var periods []CountingPeriod
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plan_id = ?", planId).
		Order("sequence").
		Find(&periods).Error
	return periods, err
}

func (s *CountingService) CreateCountingPlan(ctx context.Context, input *NewCountingPlan) (*CountingPlan, error) {
	if err := utils.ValidateInput(input); err != nil {
		s.reject("CreateCountingPlan", err)
		return nil, err
	}
	userId, userName, err := actorFromContext(ctx)
	if err != nil {
		s.reject("CreateCountingPlan", err)
		return nil, err
	}
	periodCount := s.calendar.PeriodCount()
	if input.TotalPeriods != 0 && input.TotalPeriods != periodCount {
		err := utils.ValidationError(ReasonInvalidPeriodCount, "a plan has exactly %d periods, got %d", periodCount, input.TotalPeriods)
		s.reject("CreateCountingPlan", err)
		return nil, err
	}

	var planId int
	err = s.inTx(ctx, "CreateCountingPlan", func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&CountingPlan{}).Where("year = ?", input.Year).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return utils.ConflictError(ReasonDuplicatePlan, "a counting plan for %d already exists", input.Year)
		}

		assets, err := s.assets.ListActive(tx)
		if err != nil {
			return err
		}
		if len(assets) < periodCount {
			return utils.ConflictError(ReasonInsufficientAssets, "%d active assets cannot fill %d periods", len(assets), periodCount)
		}
		distribution, err := DistributeAssets(assets, periodCount)
		if err != nil {
			return err
		}

		cycleStart, cycleEnd, err := s.calendar.CycleWindow(input.Year)
		if err != nil {
			return err
		}
		plan := CountingPlan{
			Year:            input.Year,
			CycleStart:      cycleStart,
			CycleEnd:        cycleEnd,
			Status:          CountingPlanStatusPlanned,
			TotalAssets:     distribution.TotalAssets,
			TargetPerPeriod: distribution.TargetPerPeriod,
			ToleranceMin:    distribution.ToleranceMin,
			ToleranceMax:    distribution.ToleranceMax,
			Notes:           strings.TrimSpace(input.Notes),
			Stats:           datatypes.NewJSONType(distribution.Stats),
			CreatedBy:       userId,
			CreatedByName:   userName,
		}
		percentage := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(periodCount))).Round(2)
		for _, batch := range distribution.Batches {
			start, deadline, err := s.calendar.PeriodWindow(input.Year, batch.Sequence)
			if err != nil {
				return err
			}
			plan.Periods = append(plan.Periods, CountingPeriod{
				Sequence:           batch.Sequence,
				Name:               periodName(batch.Sequence, start),
				Month:              int(start.Month()),
				Year:               start.Year(),
				Status:             CountingPeriodStatusPending,
				AssignedPercentage: percentage,
				AssetIds:           datatypes.NewJSONType(batch.AssetIds),
				AssignedCount:      len(batch.AssetIds),
				Grouping:           datatypes.NewJSONType(batch.Grouping),
				Criterion:          batch.Criterion,
				StartDate:          start,
				Deadline:           deadline,
			})
		}
		if err := tx.Create(&plan).Error; err != nil {
			if isDuplicateKeyError(err) {
				return utils.ConflictError(ReasonDuplicatePlan, "a counting plan for %d already exists", input.Year)
			}
			return err
		}
		planId = plan.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PlanCreated()
	plan, err := s.loadPlan(s.db.WithContext(ctx), planId)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"module":      countingModule,
		"funcName":    "CreateCountingPlan",
		"planId":      plan.ID,
		"year":        plan.Year,
		"totalAssets": plan.TotalAssets,
		"target":      plan.TargetPerPeriod,
	}).Info("counting plan created")
	return plan, nil
}

// StartCountingPlan opens the plan and its first period.
func (s *CountingService) StartCountingPlan(ctx context.Context, id int) (*CountingPlan, error) {
	err := s.inTx(ctx, "StartCountingPlan", func(tx *gorm.DB) error {
		plan, err := utils.FetchModelForUpdate[CountingPlan](tx, id, "plan")
		if err != nil {
			return err
		}
		if plan.Status != CountingPlanStatusPlanned {
			return utils.ConflictError(ReasonInvalidPlanState, "plan %d is %s, expected %s", plan.Year, plan.Status, CountingPlanStatusPlanned)
		}
		if err := tx.Model(plan).Update("status", CountingPlanStatusInProgress).Error; err != nil {
			return err
		}
		return tx.Model(&CountingPeriod{}).
			Where("plan_id = ? AND sequence = ? AND status = ?", plan.ID, 1, CountingPeriodStatusPending).
			Update("status", CountingPeriodStatusInProgress).Error
	})
	if err != nil {
		return nil, err
	}
	s.logPlanTransition("StartCountingPlan", id, CountingPlanStatusInProgress)
	return s.GetCountingPlan(ctx, id)
}

// CompleteCountingPlan requires every period to be completed or closed.
func (s *CountingService) CompleteCountingPlan(ctx context.Context, id int) (*CountingPlan, error) {
	err := s.inTx(ctx, "CompleteCountingPlan", func(tx *gorm.DB) error {
		plan, err := utils.FetchModelForUpdate[CountingPlan](tx, id, "plan")
		if err != nil {
			return err
		}
		if plan.Status != CountingPlanStatusInProgress {
			return utils.ConflictError(ReasonInvalidPlanState, "plan %d is %s, expected %s", plan.Year, plan.Status, CountingPlanStatusInProgress)
		}
		periods, err := lockPlanPeriods(tx, plan.ID)
		if err != nil {
			return err
		}
		var pending []string
		for _, p := range periods {
			if p.Status != CountingPeriodStatusCompleted && p.Status != CountingPeriodStatusClosed {
				pending = append(pending, p.Name)
			}
		}
		if len(pending) > 0 {
			return utils.ConflictError(ReasonPeriodsNotDone, "periods not completed: %s", strings.Join(pending, ", "))
		}
		return tx.Model(plan).Update("status", CountingPlanStatusCompleted).Error
	})
	if err != nil {
		return nil, err
	}
	s.logPlanTransition("CompleteCountingPlan", id, CountingPlanStatusCompleted)
	return s.GetCountingPlan(ctx, id)
}

func (s *CountingService) CancelCountingPlan(ctx context.Context, id int, reason string) (*CountingPlan, error) {
	err := s.inTx(ctx, "CancelCountingPlan", func(tx *gorm.DB) error {
		plan, err := utils.FetchModelForUpdate[CountingPlan](tx, id, "plan")
		if err != nil {
			return err
		}
		if plan.Status.IsTerminal() {
			return utils.ConflictError(ReasonInvalidPlanState, "plan %d is already %s", plan.Year, plan.Status)
		}
		plan.appendNote("Cancelled", reason, s.now())
		return tx.Model(plan).Updates(map[string]interface{}{
			"status": CountingPlanStatusCancelled,
			"notes":  plan.Notes,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.logPlanTransition("CancelCountingPlan", id, CountingPlanStatusCancelled)
	return s.GetCountingPlan(ctx, id)
}

// FinalizeCountingPlan completes a plan only when every period is confirmed.
func (s *CountingService) FinalizeCountingPlan(ctx context.Context, id int, reason string) (*CountingPlan, error) {
	release, err := utils.ResourceLock(ctx, s.locker, s.logger, "counting_plan", id, countingModule, "FinalizeCountingPlan")
	if err != nil {
		s.reject("FinalizeCountingPlan", err)
		return nil, err
	}
	defer release()

	err = s.inTx(ctx, "FinalizeCountingPlan", func(tx *gorm.DB) error {
		plan, err := utils.FetchModelForUpdate[CountingPlan](tx, id, "plan")
		if err != nil {
			return err
		}
		if plan.Status != CountingPlanStatusInProgress {
			return utils.ConflictError(ReasonInvalidPlanState, "plan %d is %s, expected %s", plan.Year, plan.Status, CountingPlanStatusInProgress)
		}
		periods, err := lockPlanPeriods(tx, plan.ID)
		if err != nil {
			return err
		}
		var unconfirmed []string
		for _, p := range periods {
			if !p.IsConfirmed {
				unconfirmed = append(unconfirmed, p.Name)
			}
		}
		if len(unconfirmed) > 0 {
			return utils.ConflictError(ReasonUnconfirmedPeriods, "unconfirmed periods: %s", strings.Join(unconfirmed, ", "))
		}
		if err := tx.Model(&CountingPeriod{}).
			Where("plan_id = ? AND status <> ?", plan.ID, CountingPeriodStatusClosed).
			Update("status", CountingPeriodStatusClosed).Error; err != nil {
			return err
		}
		plan.appendNote("Finalized", reason, s.now())
		if err := tx.Model(plan).Updates(map[string]interface{}{
			"status": CountingPlanStatusCompleted,
			"notes":  plan.Notes,
		}).Error; err != nil {
			return err
		}
		_, err = s.recomputePlanStatistics(tx, plan.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logPlanTransition("FinalizeCountingPlan", id, CountingPlanStatusCompleted)
	return s.GetCountingPlan(ctx, id)
}

func (s *CountingService) logPlanTransition(op string, id int, to CountingPlanStatus) {
	s.logger.WithFields(logrus.Fields{
		"module":   countingModule,
		"funcName": op,
		"planId":   id,
		"status":   to,
	}).Info("counting plan transitioned")
}

// RecomputePlanStatistics rolls the period counters up into the plan.
func (s *CountingService) RecomputePlanStatistics(ctx context.Context, id int) (*CountingPlan, error) {
	var plan *CountingPlan
	err := s.inTx(ctx, "RecomputePlanStatistics", func(tx *gorm.DB) error {
		var err error
		plan, err = s.recomputePlanStatistics(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *CountingService) recomputePlanStatistics(tx *gorm.DB, planId int) (*CountingPlan, error) {
	plan, err := utils.FetchModel[CountingPlan](tx, planId, "plan")
	if err != nil {
		return nil, err
	}
	var totals struct {
		Counted       int
		Found         int
		Missing       int
		Discrepancies int
	}
	err = tx.Model(&CountingPeriod{}).
		Select(`COALESCE(SUM(counted_assets), 0) AS counted,
			COALESCE(SUM(found_assets), 0) AS found,
			COALESCE(SUM(missing_assets), 0) AS missing,
			COALESCE(SUM(discrepancy_assets), 0) AS discrepancies`).
		Where("plan_id = ?", planId).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	err = tx.Model(&CountingPlan{}).Where("id = ?", planId).Updates(map[string]interface{}{
		"counted_assets":     totals.Counted,
		"found_assets":       totals.Found,
		"missing_assets":     totals.Missing,
		"discrepancy_assets": totals.Discrepancies,
	}).Error
	if err != nil {
		return nil, err
	}
	plan.CountedAssets = totals.Counted
	plan.FoundAssets = totals.Found
	plan.MissingAssets = totals.Missing
	plan.DiscrepancyAssets = totals.Discrepancies
	return plan, nil
}

// splitBySequence gives each open period floor(K/M) new assets and the first K mod M
// periods in sequence order one more, keeping the sorted pool contiguous.
func splitBySequence(assets []Asset, open []*CountingPeriod) [][]Asset {
	chunks := make([][]Asset, len(open))
	if len(open) == 0 {
		return chunks
	}
	base := len(assets) / len(open)
	remainder := len(assets) % len(open)
	offset := 0
	for i := range open {
		size := base
		if i < remainder {
			size++
		}
		chunks[i] = assets[offset : offset+size]
		offset += size
	}
	return chunks
}

// leastLoadedPeriod picks the open period with the fewest assigned assets; ties go to the lower sequence.
func leastLoadedPeriod(periods []CountingPeriod) *CountingPeriod {
	var best *CountingPeriod
	for i := range periods {
		p := &periods[i]
		if p.IsConfirmed || p.Status == CountingPeriodStatusClosed {
			continue
		}
		if best == nil || p.AssignedCount < best.AssignedCount ||
			(p.AssignedCount == best.AssignedCount && p.Sequence < best.Sequence) {
			best = p
		}
	}
	return best
}

func assignedAssetIds(periods []CountingPeriod) map[int]bool {
	assigned := make(map[int]bool)
	for _, p := range periods {
		for _, id := range p.Assigned() {
			assigned[id] = true
		}
	}
	return assigned
}

// RedistributeNewAssets spreads active assets that no period holds yet over the plan's open periods.
func (s *CountingService) RedistributeNewAssets(ctx context.Context, id int) (*RedistributionResult, error) {
	result := &RedistributionResult{AddedByPeriod: make(map[int]int)}
	err := s.inTx(ctx, "RedistributeNewAssets", func(tx *gorm.DB) error {
		plan, err := utils.FetchModelForUpdate[CountingPlan](tx, id, "plan")
		if err != nil {
			return err
		}
		if plan.Status.IsTerminal() {
			return utils.ConflictError(ReasonInvalidPlanState, "plan %d is %s", plan.Year, plan.Status)
		}
		periods, err := lockPlanPeriods(tx, plan.ID)
		if err != nil {
			return err
		}
		active, err := s.assets.ListActive(tx)
		if err != nil {
			return err
		}
		assigned := assignedAssetIds(periods)
		var fresh []Asset
		for _, a := range active {
			if !assigned[a.ID] {
				fresh = append(fresh, a)
			}
		}
		if len(fresh) == 0 {
			return utils.ConflictError(ReasonNoNewAssets, "plan %d has no new assets to distribute", plan.Year)
		}
		var open []*CountingPeriod
		for i := range periods {
			if !periods[i].IsConfirmed && periods[i].Status != CountingPeriodStatusClosed {
				open = append(open, &periods[i])
			}
		}
		if len(open) == 0 {
			return utils.ConflictError(ReasonNoOpenPeriods, "plan %d has no open periods", plan.Year)
		}

		sortAssetsForDistribution(fresh)
		for i, chunk := range splitBySequence(fresh, open) {
			if len(chunk) == 0 {
				continue
			}
			period := open[i]
			period.appendAssets(chunk)
			if err := tx.Save(period).Error; err != nil {
				return err
			}
			for _, a := range chunk {
				description := fmt.Sprintf("Assigned to %s by redistribution", period.Name)
				if err := s.assets.RecordHistory(tx, a.ID, description); err != nil {
					return err
				}
			}
			result.AddedByPeriod[period.Sequence] = len(chunk)
		}
		result.Distributed = len(fresh)
		return tx.Model(&CountingPlan{}).Where("id = ?", plan.ID).
			Update("total_assets", gorm.Expr("total_assets + ?", len(fresh))).Error
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AssetsAssigned("redistribution", result.Distributed)
	plan, err := s.GetCountingPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Plan = plan
	s.logger.WithFields(logrus.Fields{
		"module":      countingModule,
		"funcName":    "RedistributeNewAssets",
		"planId":      id,
		"distributed": result.Distributed,
	}).Info("new assets redistributed")
	return result, nil
}

// AddSingleNewAsset places a freshly created asset into the current open plan.
// It returns a nil period when there is nothing to do.
func (s *CountingService) AddSingleNewAsset(ctx context.Context, assetId int) (*CountingPeriod, error) {
	var target *CountingPeriod
	err := s.inTx(ctx, "AddSingleNewAsset", func(tx *gorm.DB) error {
		asset, err := s.findAsset(tx, assetId)
		if err != nil {
			return err
		}
		if !asset.IsActive {
			return nil
		}
		var plan CountingPlan
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status IN ?", []CountingPlanStatus{CountingPlanStatusPlanned, CountingPlanStatusInProgress}).
			Order("year desc, id desc").
			First(&plan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		periods, err := lockPlanPeriods(tx, plan.ID)
		if err != nil {
			return err
		}
		if assignedAssetIds(periods)[assetId] {
			return nil
		}
		period := leastLoadedPeriod(periods)
		if period == nil {
			return nil
		}
		period.appendAssets([]Asset{*asset})
		if err := tx.Save(period).Error; err != nil {
			return err
		}
		if err := tx.Model(&CountingPlan{}).Where("id = ?", plan.ID).
			Update("total_assets", gorm.Expr("total_assets + ?", 1)).Error; err != nil {
			return err
		}
		if err := s.assets.RecordHistory(tx, assetId, fmt.Sprintf("Assigned to %s on creation", period.Name)); err != nil {
			return err
		}
		target = period
		return nil
	})
	if err != nil {
		return nil, err
	}
	if target != nil {
		s.metrics.AssetsAssigned("hook", 1)
		s.logger.WithFields(logrus.Fields{
			"module":   countingModule,
			"funcName": "AddSingleNewAsset",
			"assetId":  assetId,
			"periodId": target.ID,
		}).Info("new asset assigned to counting period")
	}
	return target, nil
}

func (s *CountingService) GetCountingPlan(ctx context.Context, id int) (*CountingPlan, error) {
	return s.loadPlan(s.db.WithContext(ctx), id)
}

func (s *CountingService) GetCountingPlanByYear(ctx context.Context, year int) (*CountingPlan, error) {
	var plan CountingPlan
	err := s.db.WithContext(ctx).
		Preload("Periods", preloadPeriodsBySequence).
		Where("year = ?", year).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NotFoundError("plan_not_found", "no counting plan for %d", year)
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListCountingPlans returns plans newest year first, optionally filtered by status.
func (s *CountingService) ListCountingPlans(ctx context.Context, status *CountingPlanStatus) ([]*CountingPlan, error) {
	var plans []*CountingPlan
	dbCtx := s.db.WithContext(ctx)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if err := dbCtx.Order("year desc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

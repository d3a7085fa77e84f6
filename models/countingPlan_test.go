package models

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCountingPlan(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(97)
	plan, err := f.service.CreateCountingPlan(actor(1, "Planner"), &NewCountingPlan{Year: 2025, TotalPeriods: 10, Notes: " yearly "})
	require.NoError(t, err)

	assert.Equal(t, CountingPlanStatusPlanned, plan.Status)
	assert.Equal(t, 97, plan.TotalAssets)
	assert.Equal(t, 9, plan.TargetPerPeriod)
	assert.Equal(t, 7, plan.ToleranceMin)
	assert.Equal(t, 11, plan.ToleranceMax)
	assert.Equal(t, "yearly", plan.Notes)
	assert.Equal(t, 1, plan.CreatedBy)
	assert.True(t, plan.CycleStart.Equal(time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, plan.CycleEnd.Equal(time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, "0.70", plan.Stats.Data().DeviationAvg.StringFixed(2))

	require.Len(t, plan.Periods, 10)
	seen := make(map[int]bool)
	total := 0
	for i, p := range plan.Periods {
		assert.Equal(t, i+1, p.Sequence)
		assert.Equal(t, CountingPeriodStatusPending, p.Status)
		assert.Equal(t, "10.00", p.AssignedPercentage.StringFixed(2))
		assert.Equal(t, len(p.Assigned()), p.AssignedCount)
		for _, id := range p.Assigned() {
			require.False(t, seen[id])
			seen[id] = true
		}
		total += p.AssignedCount
		if i < 7 {
			assert.Equal(t, 10, p.AssignedCount)
		} else {
			assert.Equal(t, 9, p.AssignedCount)
		}
	}
	assert.Equal(t, 97, total)

	first, last := plan.Periods[0], plan.Periods[9]
	assert.Equal(t, "Period 1 - September 2024", first.Name)
	assert.Equal(t, 9, first.Month)
	assert.Equal(t, 2024, first.Year)
	assert.True(t, first.Deadline.Equal(time.Date(2024, time.September, 30, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, "Period 10 - June 2025", last.Name)

	byYear, err := f.service.GetCountingPlanByYear(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, byYear.ID)
	assert.Len(t, byYear.Periods, 10)
}

func TestCreateCountingPlanRejections(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(9)
	ctx := actor(1, "Planner")

	_, err := f.service.CreateCountingPlan(ctx, &NewCountingPlan{Year: 2025})
	requireReason(t, err, utils.ErrorKindConflict, ReasonInsufficientAssets)

	_, err = f.service.CreateCountingPlan(ctx, &NewCountingPlan{Year: 2025, TotalPeriods: 12})
	requireReason(t, err, utils.ErrorKindValidation, ReasonInvalidPeriodCount)

	_, err = f.service.CreateCountingPlan(ctx, &NewCountingPlan{})
	requireReason(t, err, utils.ErrorKindValidation, "invalid_input")

	_, err = f.service.CreateCountingPlan(context.Background(), &NewCountingPlan{Year: 2025})
	requireReason(t, err, utils.ErrorKindValidation, ReasonActorRequired)

	f.seedAssets(1)
	f.createPlan(2025)
	_, err = f.service.CreateCountingPlan(ctx, &NewCountingPlan{Year: 2025})
	requireReason(t, err, utils.ErrorKindConflict, ReasonDuplicatePlan)

	var plans int64
	require.NoError(t, f.db.Model(&CountingPlan{}).Count(&plans).Error)
	assert.Equal(t, int64(1), plans)
	var periods int64
	require.NoError(t, f.db.Model(&CountingPeriod{}).Count(&periods).Error)
	assert.Equal(t, int64(10), periods)

	_, err = f.service.GetCountingPlanByYear(context.Background(), 2031)
	requireReason(t, err, utils.ErrorKindNotFound, "plan_not_found")
}

func TestPlanLifecycle(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(20)
	plan := f.createPlan(2025)
	ctx := context.Background()

	_, err := f.service.CompleteCountingPlan(ctx, plan.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonInvalidPlanState)

	started, err := f.service.StartCountingPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, CountingPlanStatusInProgress, started.Status)
	assert.Equal(t, CountingPeriodStatusInProgress, started.Periods[0].Status)
	for _, p := range started.Periods[1:] {
		assert.Equal(t, CountingPeriodStatusPending, p.Status)
	}

	_, err = f.service.StartCountingPlan(ctx, plan.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonInvalidPlanState)

	_, err = f.service.CompleteCountingPlan(ctx, plan.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonPeriodsNotDone)

	for _, p := range started.Periods {
		if p.Status == CountingPeriodStatusPending {
			_, err := f.service.StartCountingPeriod(ctx, p.ID)
			require.NoError(t, err)
		}
		_, err := f.service.CompleteCountingPeriod(ctx, p.ID)
		require.NoError(t, err)
	}
	completed, err := f.service.CompleteCountingPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, CountingPlanStatusCompleted, completed.Status)

	_, err = f.service.CancelCountingPlan(ctx, plan.ID, "too late")
	requireReason(t, err, utils.ErrorKindConflict, ReasonInvalidPlanState)
}

func TestCancelCountingPlan(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(20)
	plan, err := f.service.CreateCountingPlan(actor(1, "Planner"), &NewCountingPlan{Year: 2025, Notes: "initial"})
	require.NoError(t, err)

	cancelled, err := f.service.CancelCountingPlan(context.Background(), plan.ID, "budget freeze")
	require.NoError(t, err)
	assert.Equal(t, CountingPlanStatusCancelled, cancelled.Status)
	assert.Equal(t, "initial\n[Cancelled 2024-10-15] budget freeze", cancelled.Notes)

	_, err = f.service.CancelCountingPlan(context.Background(), plan.ID, "")
	requireReason(t, err, utils.ErrorKindConflict, ReasonInvalidPlanState)

	_, err = f.service.RedistributeNewAssets(context.Background(), plan.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonInvalidPlanState)

	_, err = f.service.CancelCountingPlan(context.Background(), 9999, "")
	requireReason(t, err, utils.ErrorKindNotFound, "plan_not_found")
}

func TestFinalizeCountingPlan(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(10)
	plan := f.createPlan(2025)
	ctx := actor(3, "Supervisor")

	_, err := f.service.FinalizeCountingPlan(ctx, plan.ID, "")
	requireReason(t, err, utils.ErrorKindConflict, ReasonInvalidPlanState)

	_, err = f.service.StartCountingPlan(ctx, plan.ID)
	require.NoError(t, err)

	for _, p := range plan.Periods[:8] {
		f.countAll(ctx, &p)
		_, err := f.service.ConfirmCountingPeriod(ctx, p.ID)
		require.NoError(t, err)
	}

	_, err = f.service.FinalizeCountingPlan(ctx, plan.ID, "")
	requireReason(t, err, utils.ErrorKindConflict, ReasonUnconfirmedPeriods)
	appErr, _ := utils.AsAppError(err)
	assert.Contains(t, appErr.Message, "Period 9 - May 2025")
	assert.Contains(t, appErr.Message, "Period 10 - June 2025")
	assert.NotContains(t, appErr.Message, "Period 8")

	for _, p := range plan.Periods[8:] {
		f.countAll(ctx, &p)
		_, err := f.service.ConfirmCountingPeriod(ctx, p.ID)
		require.NoError(t, err)
	}

	finalized, err := f.service.FinalizeCountingPlan(ctx, plan.ID, "all confirmed")
	require.NoError(t, err)
	assert.Equal(t, CountingPlanStatusCompleted, finalized.Status)
	assert.Equal(t, 10, finalized.CountedAssets)
	assert.Equal(t, 10, finalized.FoundAssets)
	assert.Equal(t, 100, finalized.PercentComplete())
	assert.Contains(t, finalized.Notes, "all confirmed")
	for _, p := range finalized.Periods {
		assert.Equal(t, CountingPeriodStatusClosed, p.Status)
	}
}

func TestRecomputePlanStatisticsIdempotent(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(20)
	plan := f.createPlan(2025)
	ctx := actor(2, "Counter")
	f.countAll(ctx, &plan.Periods[0])
	_, err := f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: plan.Periods[1].ID, AssetId: plan.Periods[1].Assigned()[0], IsFound: boolPtr(false)})
	require.NoError(t, err)

	// stale counters are overwritten, never accumulated
	require.NoError(t, f.db.Model(&CountingPlan{}).Where("id = ?", plan.ID).Update("counted_assets", 42).Error)

	first, err := f.service.RecomputePlanStatistics(context.Background(), plan.ID)
	require.NoError(t, err)
	second, err := f.service.RecomputePlanStatistics(context.Background(), plan.ID)
	require.NoError(t, err)

	for _, p := range []*CountingPlan{first, second} {
		assert.Equal(t, 3, p.CountedAssets)
		assert.Equal(t, 2, p.FoundAssets)
		assert.Equal(t, 1, p.MissingAssets)
		assert.Equal(t, 1, p.DiscrepancyAssets)
		assert.Equal(t, 67, p.FoundRate())
	}
}

func TestRedistributeNewAssets(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(10)
	plan := f.createPlan(2025)
	ctx := actor(3, "Supervisor")

	_, err := f.service.RedistributeNewAssets(ctx, plan.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonNoNewAssets)

	f.countAll(ctx, &plan.Periods[0])
	_, err = f.service.ConfirmCountingPeriod(ctx, plan.Periods[0].ID)
	require.NoError(t, err)

	fresh := f.seedAssets(13)
	result, err := f.service.RedistributeNewAssets(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 13, result.Distributed)
	assert.Equal(t, map[int]int{2: 2, 3: 2, 4: 2, 5: 2, 6: 1, 7: 1, 8: 1, 9: 1, 10: 1}, result.AddedByPeriod)
	assert.Equal(t, 23, result.Plan.TotalAssets)

	closed := result.Plan.Periods[0]
	assert.Equal(t, 1, closed.AssignedCount)

	seen := make(map[int]int)
	for _, p := range result.Plan.Periods {
		assert.Equal(t, len(p.Assigned()), p.AssignedCount)
		for _, id := range p.Assigned() {
			seen[id]++
		}
	}
	assert.Len(t, seen, 23)
	for _, a := range fresh {
		assert.Equal(t, 1, seen[a.ID])
	}

	_, err = f.service.RedistributeNewAssets(ctx, plan.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonNoNewAssets)
}

func TestAddSingleNewAsset(t *testing.T) {
	f := newCountingFixture(t)
	ctx := actor(1, "Inventory")

	orphan := f.seedAssets(1)[0]
	period, err := f.service.AddSingleNewAsset(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Nil(t, period)

	f.seedAssets(10)
	plan := f.createPlan(2025)
	// 11 assets: period 1 holds two, every other period one
	require.Equal(t, 2, plan.Periods[0].AssignedCount)

	assigned, err := f.service.AddSingleNewAsset(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Nil(t, assigned)

	fresh := f.seedAssets(1)[0]
	period, err = f.service.AddSingleNewAsset(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, 2, period.Sequence)
	assert.Equal(t, 2, period.AssignedCount)
	assert.True(t, f.period(period.ID).HasAsset(fresh.ID))

	next := f.seedAssets(1)[0]
	period, err = f.service.AddSingleNewAsset(ctx, next.ID)
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, 3, period.Sequence)

	reloaded, err := f.service.GetCountingPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 13, reloaded.TotalAssets)

	_, err = f.service.AddSingleNewAsset(ctx, 9999)
	requireReason(t, err, utils.ErrorKindNotFound, "asset_not_found")
}

func TestListCountingPlans(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(10)
	f.createPlan(2024)
	second := f.createPlan(2025)
	_, err := f.service.CancelCountingPlan(context.Background(), second.ID, "")
	require.NoError(t, err)

	plans, err := f.service.ListCountingPlans(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, 2025, plans[0].Year)

	status := CountingPlanStatusPlanned
	plans, err = f.service.ListCountingPlans(context.Background(), &status)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 2024, plans[0].Year)
}

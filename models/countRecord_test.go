package models

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDiscrepancy(t *testing.T) {
	asset := Asset{Label: "AST-1", AreaName: " Main Hall "}
	tests := []struct {
		name     string
		found    bool
		observed string
		flagged  bool
		kind     DiscrepancyType
	}{
		{"missing wins over matching area", false, "Main Hall", true, DiscrepancyTypeMissing},
		{"missing without area", false, "", true, DiscrepancyTypeMissing},
		{"same area after trim", true, "Main Hall  ", false, DiscrepancyTypeNone},
		{"different area", true, "Store Room", true, DiscrepancyTypeArea},
		{"no observed area", true, "   ", false, DiscrepancyTypeNone},
		{"empty observed area", true, "", false, DiscrepancyTypeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagged, kind, description := detectDiscrepancy(tt.found, tt.observed, asset)
			assert.Equal(t, tt.flagged, flagged)
			assert.Equal(t, tt.kind, kind)
			if tt.flagged {
				assert.NotEmpty(t, description)
			}
		})
	}
}

func TestAreaNotObserved(t *testing.T) {
	assert.True(t, areaNotObserved(""))
	assert.True(t, areaNotObserved(" \t "))
	assert.False(t, areaNotObserved("Store Room"))
}

func TestSubmitCountRecord(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(20)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]
	other := &plan.Periods[1]
	ids := period.Assigned()
	ctx := actor(4, "Counter")

	record, err := f.service.SubmitCountRecord(ctx, &NewCountRecord{
		PeriodId:     period.ID,
		AssetId:      ids[0],
		IsFound:      boolPtr(true),
		ObservedArea: "Store Room",
	})
	require.NoError(t, err)
	assert.Equal(t, CountRecordStatusCounted, record.Status)
	assert.True(t, record.HasDiscrepancy)
	assert.Equal(t, DiscrepancyTypeArea, record.DiscrepancyType)
	assert.Equal(t, 4, record.CountedBy)
	assert.Equal(t, "Counter", record.CountedByName)
	assert.Equal(t, testNow, record.CountedAt)

	_, err = f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: period.ID, AssetId: ids[0], IsFound: boolPtr(false)})
	requireReason(t, err, utils.ErrorKindConflict, ReasonDuplicateRecord)

	_, err = f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: period.ID, AssetId: other.Assigned()[0], IsFound: boolPtr(true)})
	requireReason(t, err, utils.ErrorKindConflict, ReasonAssetNotInPeriod)

	_, err = f.service.SubmitCountRecord(context.Background(), &NewCountRecord{PeriodId: period.ID, AssetId: ids[1], IsFound: boolPtr(true)})
	requireReason(t, err, utils.ErrorKindValidation, ReasonActorRequired)

	_, err = f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: period.ID, AssetId: ids[1]})
	requireReason(t, err, utils.ErrorKindValidation, "invalid_input")

	_, err = f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: 9999, AssetId: ids[1], IsFound: boolPtr(true)})
	requireReason(t, err, utils.ErrorKindNotFound, "period_not_found")

	p := f.period(period.ID)
	assert.Equal(t, 1, p.CountedAssets)
	assert.Equal(t, 1, p.DiscrepancyAssets)
}

func TestCountRecordUniqueIndex(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(10)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]
	assetId := period.Assigned()[0]

	row := func() *CountRecord {
		return &CountRecord{
			PeriodId:        period.ID,
			AssetId:         assetId,
			Status:          CountRecordStatusCounted,
			IsFound:         true,
			DiscrepancyType: DiscrepancyTypeNone,
			CountedAt:       time.Now(),
			CountedBy:       1,
		}
	}
	require.NoError(t, f.db.Create(row()).Error)
	err := f.db.Create(row()).Error
	require.Error(t, err)
	assert.True(t, isDuplicateKeyError(err))
}

func TestUpdateCountRecord(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(20)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]
	owner := actor(4, "Owner")

	record, err := f.service.SubmitCountRecord(owner, &NewCountRecord{PeriodId: period.ID, AssetId: period.Assigned()[0], IsFound: boolPtr(false)})
	require.NoError(t, err)
	_, err = f.service.ReviewCountRecord(actor(9, "Reviewer"), record.ID, true, "ok")
	require.NoError(t, err)

	_, err = f.service.UpdateCountRecord(actor(5, "Someone Else"), record.ID, &CountRecordUpdate{IsFound: boolPtr(true)})
	requireReason(t, err, utils.ErrorKindConflict, ReasonNotRecordOwner)

	updated, err := f.service.UpdateCountRecord(owner, record.ID, &CountRecordUpdate{
		IsFound:      boolPtr(true),
		ObservedArea: strPtr(" Main Hall "),
		Comments:     strPtr("found behind the door"),
	})
	require.NoError(t, err)
	assert.True(t, updated.IsFound)
	assert.False(t, updated.HasDiscrepancy)
	assert.Equal(t, DiscrepancyTypeNone, updated.DiscrepancyType)
	assert.Equal(t, "Main Hall", updated.ObservedArea)
	assert.Equal(t, CountRecordStatusCounted, updated.Status)
	assert.False(t, updated.IsApproved)

	p := f.period(period.ID)
	assert.Equal(t, 1, p.FoundAssets)
	assert.Equal(t, 0, p.MissingAssets)
	assert.Equal(t, 0, p.DiscrepancyAssets)
}

func TestReviewCountRecord(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(10)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]

	record, err := f.service.SubmitCountRecord(actor(4, "Owner"), &NewCountRecord{PeriodId: period.ID, AssetId: period.Assigned()[0], IsFound: boolPtr(true)})
	require.NoError(t, err)

	reviewed, err := f.service.ReviewCountRecord(actor(9, "Reviewer"), record.ID, false, "check serial")
	require.NoError(t, err)
	assert.Equal(t, CountRecordStatusReviewed, reviewed.Status)
	assert.False(t, reviewed.IsApproved)
	assert.Equal(t, "check serial", reviewed.ReviewComments)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, 9, *reviewed.ReviewedBy)

	approved, err := f.service.ReviewCountRecord(actor(9, "Reviewer"), record.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, CountRecordStatusApproved, approved.Status)
	assert.True(t, approved.IsApproved)
	require.NotNil(t, approved.ReviewedAt)
}

func TestApplyCountRecordCorrection(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(20)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]
	ids := period.Assigned()
	ctx := actor(4, "Owner")

	clean, err := f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: period.ID, AssetId: ids[0], IsFound: boolPtr(true)})
	require.NoError(t, err)
	_, err = f.service.ApplyCountRecordCorrection(ctx, clean.ID, &CountRecordCorrectionInput{Fields: []string{"area"}})
	requireReason(t, err, utils.ErrorKindConflict, ReasonNoDiscrepancy)

	moved, err := f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: period.ID, AssetId: ids[1], IsFound: boolPtr(true), ObservedArea: "Store Room"})
	require.NoError(t, err)

	_, err = f.service.ApplyCountRecordCorrection(ctx, moved.ID, &CountRecordCorrectionInput{})
	requireReason(t, err, utils.ErrorKindValidation, "invalid_input")

	corrected, err := f.service.ApplyCountRecordCorrection(actor(8, "Clerk"), moved.ID, &CountRecordCorrectionInput{
		Fields: []string{"Area", "serial", "area"},
		Notes:  "moved last week",
	})
	require.NoError(t, err)
	assert.True(t, corrected.CorrectionApplied)
	require.NotNil(t, corrected.CorrectedBy)
	assert.Equal(t, 8, *corrected.CorrectedBy)

	correction := corrected.Correction.Data()
	assert.Equal(t, []string{"area", "serial"}, correction.Fields)
	assert.Equal(t, map[string]string{"area": "Main Hall"}, correction.Before)
	assert.Equal(t, map[string]string{"area": "Store Room"}, correction.After)
	assert.Equal(t, "moved last week", correction.Notes)

	stored, err := f.service.GetCountRecord(context.Background(), moved.ID)
	require.NoError(t, err)
	assert.Equal(t, correction, stored.Correction.Data())
}

func TestDeleteCountRecord(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(20)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]
	owner := actor(4, "Owner")

	record, err := f.service.SubmitCountRecord(owner, &NewCountRecord{PeriodId: period.ID, AssetId: period.Assigned()[0], IsFound: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, f.period(period.ID).CountedAssets)

	_, err = f.service.DeleteCountRecord(actor(5, "Other"), record.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonNotRecordOwner)

	_, err = f.service.DeleteCountRecord(owner, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.period(period.ID).CountedAssets)

	_, err = f.service.GetCountRecord(context.Background(), record.ID)
	requireReason(t, err, utils.ErrorKindNotFound, "record_not_found")

	planAfter, err := f.service.GetCountingPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, planAfter.CountedAssets)
}

func TestChangeRecordInConfirmedPeriod(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(10)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]
	owner := actor(4, "Owner")

	record, err := f.service.SubmitCountRecord(owner, &NewCountRecord{PeriodId: period.ID, AssetId: period.Assigned()[0], IsFound: boolPtr(true)})
	require.NoError(t, err)
	_, err = f.service.ConfirmCountingPeriod(actor(3, "Supervisor"), period.ID)
	require.NoError(t, err)

	_, err = f.service.UpdateCountRecord(owner, record.ID, &CountRecordUpdate{IsFound: boolPtr(false)})
	requireReason(t, err, utils.ErrorKindConflict, ReasonPeriodClosed)
	_, err = f.service.DeleteCountRecord(owner, record.ID)
	requireReason(t, err, utils.ErrorKindConflict, ReasonPeriodClosed)

	p := f.period(period.ID)
	assert.True(t, p.IsConfirmed)
	assert.Equal(t, 1, p.CountedAssets)
	assert.Equal(t, 1, p.FoundAssets)
	stored, err := f.service.GetCountRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsFound)

	_, err = f.service.DeleteCountRecord(owner, 9999)
	requireReason(t, err, utils.ErrorKindNotFound, "record_not_found")
}

func TestListCountRecordsAndUserStats(t *testing.T) {
	f := newCountingFixture(t)
	f.seedAssets(40)
	plan := f.createPlan(2025)
	period := &plan.Periods[0]
	ids := period.Assigned()
	require.Len(t, ids, 4)

	alice := actor(2, "Alice")
	bob := actor(1, "Bob")
	submit := func(ctx context.Context, assetId int, found bool, area string) {
		_, err := f.service.SubmitCountRecord(ctx, &NewCountRecord{PeriodId: period.ID, AssetId: assetId, IsFound: boolPtr(found), ObservedArea: area})
		require.NoError(t, err)
	}
	submit(alice, ids[0], true, "")
	submit(alice, ids[1], false, "")
	submit(alice, ids[2], true, "Store Room")
	submit(bob, ids[3], true, "Main Hall")

	ctx := context.Background()
	all, err := f.service.ListCountRecords(ctx, period.ID, CountRecordFilterAll)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	discrepancies, err := f.service.ListCountRecords(ctx, period.ID, CountRecordFilterDiscrepancies)
	require.NoError(t, err)
	assert.Len(t, discrepancies, 2)

	missing, err := f.service.ListCountRecords(ctx, period.ID, CountRecordFilterMissing)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, ids[1], missing[0].AssetId)

	stats, err := f.service.CountRecordUserStats(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, CountUserStats{UserId: 1, UserName: "Bob", Counted: 1, Found: 1, FoundRate: 100}, stats[0])
	assert.Equal(t, CountUserStats{UserId: 2, UserName: "Alice", Counted: 3, Found: 2, Missing: 1, Discrepancies: 2, FoundRate: 67}, stats[1])

	_, err = f.service.ListCountRecords(ctx, 9999, CountRecordFilterAll)
	requireReason(t, err, utils.ErrorKindNotFound, "period_not_found")
}

func TestParseCountRecordFilter(t *testing.T) {
	filter, err := ParseCountRecordFilter("")
	require.NoError(t, err)
	assert.Equal(t, CountRecordFilterAll, filter)

	filter, err = ParseCountRecordFilter(" Missing ")
	require.NoError(t, err)
	assert.Equal(t, CountRecordFilterMissing, filter)

	_, err = ParseCountRecordFilter("bogus")
	requireReason(t, err, utils.ErrorKindValidation, ReasonInvalidFilter)
}

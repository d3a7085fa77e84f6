package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CountRecord struct {
	ID                     int                                  `gorm:"primary_key" json:"id"`
	PeriodId               int                                  `gorm:"uniqueIndex:idx_count_record_period_asset;not null" json:"period_id"`
	AssetId                int                                  `gorm:"uniqueIndex:idx_count_record_period_asset;index;not null" json:"asset_id"`
	Status                 CountRecordStatus                    `gorm:"size:20;not null" json:"status"`
	IsFound                bool                                 `gorm:"not null" json:"is_found"`
	ObservedLocation       string                               `gorm:"size:255" json:"observed_location"`
	ObservedCondition      string                               `gorm:"size:255" json:"observed_condition"`
	ObservedArea           string                               `gorm:"size:100" json:"observed_area"`
	HasDiscrepancy         bool                                 `gorm:"index;not null" json:"has_discrepancy"`
	DiscrepancyType        DiscrepancyType                      `gorm:"size:20;not null" json:"discrepancy_type"`
	DiscrepancyDescription string                               `gorm:"type:text" json:"discrepancy_description"`
	Comments               string                               `gorm:"type:text" json:"comments"`
	CountedAt              time.Time                            `gorm:"not null" json:"counted_at"`
	CountedBy              int                                  `gorm:"index;not null" json:"counted_by"`
	CountedByName          string                               `gorm:"size:100" json:"counted_by_name"`
	ReviewedAt             *time.Time                           `json:"reviewed_at"`
	ReviewComments         string                               `gorm:"type:text" json:"review_comments"`
	IsApproved             bool                                 `gorm:"not null" json:"is_approved"`
	ReviewedBy             *int                                 `json:"reviewed_by"`
	CorrectionApplied      bool                                 `gorm:"not null" json:"correction_applied"`
	CorrectedAt            *time.Time                           `json:"corrected_at"`
	CorrectedBy            *int                                 `json:"corrected_by"`
	Correction             datatypes.JSONType[RecordCorrection] `json:"correction"`
	CreatedAt              time.Time                            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time                            `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordCorrection is the before/after snapshot of a correction.
type RecordCorrection struct {
	Fields []string          `json:"fields"`
	Before map[string]string `json:"before"`
	After  map[string]string `json:"after"`
	Notes  string            `json:"notes"`
}

type NewCountRecord struct {
	PeriodId          int    `json:"period_id" validate:"required"`
	AssetId           int    `json:"asset_id" validate:"required"`
	IsFound           *bool  `json:"is_found" validate:"required"`
	ObservedLocation  string `json:"observed_location" validate:"max=255"`
	ObservedCondition string `json:"observed_condition" validate:"max=255"`
	ObservedArea      string `json:"observed_area" validate:"max=100"`
	Comments          string `json:"comments"`
}

// CountRecordUpdate only touches the non-nil fields.
type CountRecordUpdate struct {
	IsFound           *bool   `json:"is_found"`
	ObservedLocation  *string `json:"observed_location" validate:"omitempty,max=255"`
	ObservedCondition *string `json:"observed_condition" validate:"omitempty,max=255"`
	ObservedArea      *string `json:"observed_area" validate:"omitempty,max=100"`
	Comments          *string `json:"comments"`
}

type CountRecordCorrectionInput struct {
	Fields []string `json:"fields" validate:"required,min=1,dive,required"`
	Notes  string   `json:"notes"`
}

// CountUserStats aggregates one contributor's records within a period.
type CountUserStats struct {
	UserId        int    `json:"user_id"`
	UserName      string `json:"user_name"`
	Counted       int    `json:"counted"`
	Found         int    `json:"found"`
	Missing       int    `json:"missing"`
	Discrepancies int    `json:"discrepancies"`
	FoundRate     int    `json:"found_rate"`
}

// fields a correction can snapshot
const correctableFieldArea = "area"

// areaNotObserved is true when the counter left the area blank. A blank area
// means "not observed" and is never compared against the recorded one.
func areaNotObserved(observedArea string) bool {
	return strings.TrimSpace(observedArea) == ""
}

// detectDiscrepancy: not found is always Missing. A found asset whose observed
// area differs (after trim) from the recorded one is an Area discrepancy, unless
// areaNotObserved holds.
func detectDiscrepancy(found bool, observedArea string, asset Asset) (bool, DiscrepancyType, string) {
	if !found {
		return true, DiscrepancyTypeMissing, fmt.Sprintf("Asset %q was not found during counting", asset.Label)
	}
	if areaNotObserved(observedArea) {
		return false, DiscrepancyTypeNone, ""
	}
	observed := strings.TrimSpace(observedArea)
	recorded := strings.TrimSpace(asset.AreaName)
	if observed != recorded {
		return true, DiscrepancyTypeArea, fmt.Sprintf("Asset %q observed in area %q, recorded in %q", asset.Label, observed, recorded)
	}
	return false, DiscrepancyTypeNone, ""
}

func (r *CountRecord) applyDiscrepancy(asset Asset) {
	r.HasDiscrepancy, r.DiscrepancyType, r.DiscrepancyDescription = detectDiscrepancy(r.IsFound, r.ObservedArea, asset)
}

func (s *CountingService) findAsset(tx *gorm.DB, assetId int) (*Asset, error) {
	assets, err := s.assets.FindByIds(tx, []int{assetId})
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, utils.NotFoundError("asset_not_found", "asset %d not found", assetId)
	}
	return &assets[0], nil
}

// openPeriodForRecords rejects changes once the period is closed.
func openPeriodForRecords(period *CountingPeriod) error {
	if period.Status == CountingPeriodStatusClosed || period.IsConfirmed {
		return utils.ConflictError(ReasonPeriodClosed, "%s is closed", period.Name)
	}
	return nil
}

func (s *CountingService) SubmitCountRecord(ctx context.Context, input *NewCountRecord) (*CountRecord, error) {
	if err := utils.ValidateInput(input); err != nil {
		s.reject("SubmitCountRecord", err)
		return nil, err
	}
	userId, userName, err := actorFromContext(ctx)
	if err != nil {
		s.reject("SubmitCountRecord", err)
		return nil, err
	}

	var record CountRecord
	err = s.inTx(ctx, "SubmitCountRecord", func(tx *gorm.DB) error {
		period, err := utils.FetchModelForUpdate[CountingPeriod](tx, input.PeriodId, "period")
		if err != nil {
			return err
		}
		if err := openPeriodForRecords(period); err != nil {
			return err
		}
		if !period.HasAsset(input.AssetId) {
			return utils.ConflictError(ReasonAssetNotInPeriod, "asset %d is not assigned to %s", input.AssetId, period.Name)
		}
		var existing int64
		if err := tx.Model(&CountRecord{}).Where("period_id = ? AND asset_id = ?", period.ID, input.AssetId).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return duplicateRecordError(input.AssetId, period)
		}
		asset, err := s.findAsset(tx, input.AssetId)
		if err != nil {
			return err
		}

		record = CountRecord{
			PeriodId:          period.ID,
			AssetId:           input.AssetId,
			Status:            CountRecordStatusCounted,
			IsFound:           *input.IsFound,
			ObservedLocation:  strings.TrimSpace(input.ObservedLocation),
			ObservedCondition: strings.TrimSpace(input.ObservedCondition),
			ObservedArea:      strings.TrimSpace(input.ObservedArea),
			Comments:          input.Comments,
			CountedAt:         s.now(),
			CountedBy:         userId,
			CountedByName:     userName,
		}
		record.applyDiscrepancy(*asset)
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicateKeyError(err) {
				return duplicateRecordError(input.AssetId, period)
			}
			return err
		}
		_, err = s.recomputeCascade(tx, period.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSubmitted(record.IsFound)
	if record.HasDiscrepancy {
		s.logger.WithFields(logrus.Fields{
			"module":          countingModule,
			"funcName":        "SubmitCountRecord",
			"periodId":        record.PeriodId,
			"assetId":         record.AssetId,
			"discrepancyType": record.DiscrepancyType,
		}).Info("count record flagged with discrepancy")
	}
	return &record, nil
}

func duplicateRecordError(assetId int, period *CountingPeriod) error {
	return utils.ConflictError(ReasonDuplicateRecord, "asset %d was already counted in %s", assetId, period.Name)
}

// ownRecordForChange loads a record its recorder may still change.
// The period row is locked before the record, the same order SubmitCountRecord
// and ConfirmCountingPeriod use, so a change cannot slip past a confirmation.
func (s *CountingService) ownRecordForChange(tx *gorm.DB, id int, userId int) (*CountRecord, *CountingPeriod, error) {
	var periodIds []int
	err := tx.Model(&CountRecord{}).Where("id = ?", id).Pluck("period_id", &periodIds).Error
	if err != nil {
		return nil, nil, err
	}
	if len(periodIds) == 0 {
		return nil, nil, utils.NotFoundError("record_not_found", "record %d not found", id)
	}
	period, err := utils.FetchModelForUpdate[CountingPeriod](tx, periodIds[0], "period")
	if err != nil {
		return nil, nil, err
	}
	record, err := utils.FetchModelForUpdate[CountRecord](tx, id, "record")
	if err != nil {
		return nil, nil, err
	}
	if err := openPeriodForRecords(period); err != nil {
		return nil, nil, err
	}
	if record.CountedBy != userId {
		return nil, nil, utils.ConflictError(ReasonNotRecordOwner, "count record %d belongs to another user", id)
	}
	return record, period, nil
}

func (s *CountingService) UpdateCountRecord(ctx context.Context, id int, input *CountRecordUpdate) (*CountRecord, error) {
	if err := utils.ValidateInput(input); err != nil {
		s.reject("UpdateCountRecord", err)
		return nil, err
	}
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		s.reject("UpdateCountRecord", err)
		return nil, err
	}

	var record *CountRecord
	err = s.inTx(ctx, "UpdateCountRecord", func(tx *gorm.DB) error {
		var err error
		record, _, err = s.ownRecordForChange(tx, id, userId)
		if err != nil {
			return err
		}
		if input.IsFound != nil {
			record.IsFound = *input.IsFound
		}
		if input.ObservedLocation != nil {
			record.ObservedLocation = strings.TrimSpace(*input.ObservedLocation)
		}
		if input.ObservedCondition != nil {
			record.ObservedCondition = strings.TrimSpace(*input.ObservedCondition)
		}
		if input.ObservedArea != nil {
			record.ObservedArea = strings.TrimSpace(*input.ObservedArea)
		}
		if input.Comments != nil {
			record.Comments = *input.Comments
		}
		asset, err := s.findAsset(tx, record.AssetId)
		if err != nil {
			return err
		}
		record.applyDiscrepancy(*asset)
		// an edited count needs a fresh review
		record.Status = CountRecordStatusCounted
		record.IsApproved = false
		if err := tx.Save(record).Error; err != nil {
			return err
		}
		_, err = s.recomputeCascade(tx, record.PeriodId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *CountingService) ReviewCountRecord(ctx context.Context, id int, approved bool, comments string) (*CountRecord, error) {
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		s.reject("ReviewCountRecord", err)
		return nil, err
	}
	var record *CountRecord
	err = s.inTx(ctx, "ReviewCountRecord", func(tx *gorm.DB) error {
		var err error
		record, err = utils.FetchModelForUpdate[CountRecord](tx, id, "record")
		if err != nil {
			return err
		}
		now := s.now()
		record.Status = CountRecordStatusReviewed
		if approved {
			record.Status = CountRecordStatusApproved
		}
		record.IsApproved = approved
		record.ReviewedAt = &now
		record.ReviewComments = comments
		record.ReviewedBy = &userId
		return tx.Save(record).Error
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *CountingService) ApplyCountRecordCorrection(ctx context.Context, id int, input *CountRecordCorrectionInput) (*CountRecord, error) {
	if err := utils.ValidateInput(input); err != nil {
		s.reject("ApplyCountRecordCorrection", err)
		return nil, err
	}
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		s.reject("ApplyCountRecordCorrection", err)
		return nil, err
	}
	var record *CountRecord
	err = s.inTx(ctx, "ApplyCountRecordCorrection", func(tx *gorm.DB) error {
		var err error
		record, err = utils.FetchModelForUpdate[CountRecord](tx, id, "record")
		if err != nil {
			return err
		}
		if !record.HasDiscrepancy {
			return utils.ConflictError(ReasonNoDiscrepancy, "count record %d has no discrepancy to correct", id)
		}
		asset, err := s.findAsset(tx, record.AssetId)
		if err != nil {
			return err
		}
		correction := RecordCorrection{
			Before: map[string]string{},
			After:  map[string]string{},
			Notes:  input.Notes,
		}
		for _, field := range input.Fields {
			field = strings.ToLower(strings.TrimSpace(field))
			if utils.Contains(correction.Fields, field) {
				continue
			}
			correction.Fields = append(correction.Fields, field)
			if field == correctableFieldArea {
				correction.Before[field] = asset.AreaName
				correction.After[field] = record.ObservedArea
			}
		}
		now := s.now()
		record.Correction = datatypes.NewJSONType(correction)
		record.CorrectionApplied = true
		record.CorrectedAt = &now
		record.CorrectedBy = &userId
		return tx.Save(record).Error
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *CountingService) DeleteCountRecord(ctx context.Context, id int) (*CountRecord, error) {
	userId, _, err := actorFromContext(ctx)
	if err != nil {
		s.reject("DeleteCountRecord", err)
		return nil, err
	}
	var record *CountRecord
	err = s.inTx(ctx, "DeleteCountRecord", func(tx *gorm.DB) error {
		var err error
		record, _, err = s.ownRecordForChange(tx, id, userId)
		if err != nil {
			return err
		}
		if err := tx.Delete(record).Error; err != nil {
			return err
		}
		_, err = s.recomputeCascade(tx, record.PeriodId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *CountingService) GetCountRecord(ctx context.Context, id int) (*CountRecord, error) {
	return utils.FetchModel[CountRecord](s.db.WithContext(ctx), id, "record")
}

func (s *CountingService) ListCountRecords(ctx context.Context, periodId int, filter CountRecordFilter) ([]CountRecord, error) {
	db := s.db.WithContext(ctx)
	if _, err := utils.FetchModel[CountingPeriod](db, periodId, "period"); err != nil {
		return nil, err
	}
	query := db.Where("period_id = ?", periodId)
	switch filter {
	case CountRecordFilterDiscrepancies:
		query = query.Where("has_discrepancy = ?", true)
	case CountRecordFilterMissing:
		query = query.Where("is_found = ?", false)
	}
	var records []CountRecord
	if err := query.Order("id").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountRecordUserStats groups a period's records by recorder.
func (s *CountingService) CountRecordUserStats(ctx context.Context, periodId int) ([]CountUserStats, error) {
	records, err := s.ListCountRecords(ctx, periodId, CountRecordFilterAll)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int]*CountUserStats)
	for _, r := range records {
		stats, ok := byUser[r.CountedBy]
		if !ok {
			stats = &CountUserStats{UserId: r.CountedBy, UserName: r.CountedByName}
			byUser[r.CountedBy] = stats
		}
		stats.Counted++
		if r.IsFound {
			stats.Found++
		} else {
			stats.Missing++
		}
		if r.HasDiscrepancy {
			stats.Discrepancies++
		}
	}
	result := make([]CountUserStats, 0, len(byUser))
	for _, stats := range byUser {
		stats.FoundRate = utils.PercentOf(stats.Found, stats.Counted)
		result = append(result, *stats)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserId < result[j].UserId })
	return result, nil
}

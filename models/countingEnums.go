package models

import (
	"strings"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

type CountingPlanStatus string

const (
	CountingPlanStatusPlanned    CountingPlanStatus = "Planned"
	CountingPlanStatusInProgress CountingPlanStatus = "InProgress"
	CountingPlanStatusCompleted  CountingPlanStatus = "Completed"
	CountingPlanStatusCancelled  CountingPlanStatus = "Cancelled"
)

// terminal plans accept no further transitions
func (s CountingPlanStatus) IsTerminal() bool {
	return s == CountingPlanStatusCompleted || s == CountingPlanStatusCancelled
}

type CountingPeriodStatus string

const (
	CountingPeriodStatusPending    CountingPeriodStatus = "Pending"
	CountingPeriodStatusInProgress CountingPeriodStatus = "InProgress"
	CountingPeriodStatusCompleted  CountingPeriodStatus = "Completed"
	CountingPeriodStatusClosed     CountingPeriodStatus = "Closed"
)

type CountRecordStatus string

const (
	CountRecordStatusPending  CountRecordStatus = "Pending"
	CountRecordStatusCounted  CountRecordStatus = "Counted"
	CountRecordStatusReviewed CountRecordStatus = "Reviewed"
	CountRecordStatusApproved CountRecordStatus = "Approved"
)

type DiscrepancyType string

const (
	DiscrepancyTypeNone    DiscrepancyType = "None"
	DiscrepancyTypeArea    DiscrepancyType = "Area"
	DiscrepancyTypeMissing DiscrepancyType = "Missing"
	DiscrepancyTypeOther   DiscrepancyType = "Other"
)

type CountRecordFilter string

const (
	CountRecordFilterAll           CountRecordFilter = "all"
	CountRecordFilterDiscrepancies CountRecordFilter = "discrepancies"
	CountRecordFilterMissing       CountRecordFilter = "missing"
)

// ParseCountRecordFilter accepts "", all, discrepancies and missing (case-insensitive).
func ParseCountRecordFilter(s string) (CountRecordFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(CountRecordFilterAll):
		return CountRecordFilterAll, nil
	case string(CountRecordFilterDiscrepancies):
		return CountRecordFilterDiscrepancies, nil
	case string(CountRecordFilterMissing):
		return CountRecordFilterMissing, nil
	default:
		return "", utils.ValidationError(ReasonInvalidFilter, "invalid count record filter %q", s)
	}
}

// Reason codes returned with rejected counting operations.
const (
	ReasonInvalidFilter        = "invalid_filter"
	ReasonInvalidDays          = "invalid_days"
	ReasonActorRequired        = "actor_required"
	ReasonDuplicatePlan        = "duplicate_plan"
	ReasonInvalidPeriodCount   = "invalid_period_count"
	ReasonInsufficientAssets   = "insufficient_assets"
	ReasonInvalidPlanState     = "invalid_plan_state"
	ReasonPeriodsNotDone       = "periods_not_done"
	ReasonUnconfirmedPeriods   = "unconfirmed_periods"
	ReasonNoNewAssets          = "no_new_assets"
	ReasonNoOpenPeriods        = "no_open_periods"
	ReasonInvalidPeriodState   = "invalid_period_state"
	ReasonPeriodConfirmed      = "period_confirmed"
	ReasonIncompleteCount      = "incomplete_count"
	ReasonPeriodClosed         = "period_closed"
	ReasonAssetNotInPeriod     = "asset_not_in_period"
	ReasonDuplicateRecord      = "duplicate_record"
	ReasonNotRecordOwner       = "not_record_owner"
	ReasonNoDiscrepancy        = "no_discrepancy"
	ReasonDistributionPeriods  = "distribution_period_count"
	ReasonDistributionCoverage = "distribution_coverage"
	ReasonDistributionDup      = "distribution_duplicate_asset"
	ReasonDistributionEmpty    = "distribution_empty_period"
)

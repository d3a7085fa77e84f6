package models

import (
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/shopspring/decimal"
)

var (
	toleranceLowFactor  = decimal.RequireFromString("0.85")
	toleranceHighFactor = decimal.RequireFromString("1.15")
)

const criterionTopGroups = 3

// GroupDetail is one (category, sub-category) bucket inside a period.
type GroupDetail struct {
	Count    int   `json:"count"`
	AssetIds []int `json:"asset_ids"`
}

// PeriodGrouping maps category -> sub-category -> bucket.
type PeriodGrouping map[string]map[string]GroupDetail

func (g PeriodGrouping) add(category, subCategory string, assetId int) {
	if g[category] == nil {
		g[category] = make(map[string]GroupDetail)
	}
	detail := g[category][subCategory]
	detail.Count++
	detail.AssetIds = append(detail.AssetIds, assetId)
	g[category][subCategory] = detail
}

func (g PeriodGrouping) remove(assetId int) {
	for category, subs := range g {
		for sub, detail := range subs {
			if !utils.Contains(detail.AssetIds, assetId) {
				continue
			}
			detail.AssetIds = utils.RemoveInt(detail.AssetIds, assetId)
			detail.Count = len(detail.AssetIds)
			if detail.Count == 0 {
				delete(subs, sub)
			} else {
				subs[sub] = detail
			}
		}
		if len(subs) == 0 {
			delete(g, category)
		}
	}
}

// DistributionStats is the snapshot stored on the plan.
type DistributionStats struct {
	DeviationAvg       decimal.Decimal  `json:"deviation_avg"`
	RealCounts         []int            `json:"real_counts"`
	CategoriesByPeriod map[int][]string `json:"categories_by_period"`
}

// DistributionBatch is the asset slice of one period.
type DistributionBatch struct {
	Sequence   int
	AssetIds   []int
	Grouping   PeriodGrouping
	Criterion  string
	Categories []string
}

type Distribution struct {
	TotalAssets     int
	TargetPerPeriod int
	ToleranceMin    int
	ToleranceMax    int
	Batches         []DistributionBatch
	Stats           DistributionStats
}

// sortAssetsForDistribution orders by category desc, sub-category asc, id asc.
func sortAssetsForDistribution(assets []Asset) {
	sort.SliceStable(assets, func(i, j int) bool {
		a, b := assets[i], assets[j]
		if a.Category != b.Category {
			return a.Category > b.Category
		}
		if a.SubCategory != b.SubCategory {
			return a.SubCategory < b.SubCategory
		}
		return a.ID < b.ID
	})
}

// DistributeAssets splits assets into periodCount contiguous batches whose sizes differ by at most one.
// The input slice is not modified. Any broken invariant is returned as an invariant error, never repaired.
func DistributeAssets(assets []Asset, periodCount int) (*Distribution, error) {
	if periodCount <= 0 {
		return nil, utils.InvariantError(ReasonDistributionPeriods, "period count must be positive, got %d", periodCount)
	}

	sorted := make([]Asset, len(assets))
	copy(sorted, assets)
	sortAssetsForDistribution(sorted)

	total := len(sorted)
	base := total / periodCount
	remainder := total % periodCount

	batches := make([]DistributionBatch, 0, periodCount)
	offset := 0
	for i := 0; i < periodCount; i++ {
		size := base
		if i < remainder {
			size++
		}
		batches = append(batches, buildBatch(i+1, sorted[offset:offset+size]))
		offset += size
	}

	if err := validateBatches(batches, total, periodCount); err != nil {
		return nil, err
	}

	target := decimal.NewFromInt(int64(base))
	return &Distribution{
		TotalAssets:     total,
		TargetPerPeriod: base,
		ToleranceMin:    int(target.Mul(toleranceLowFactor).Floor().IntPart()),
		ToleranceMax:    int(target.Mul(toleranceHighFactor).Ceil().IntPart()),
		Batches:         batches,
		Stats:           distributionStats(batches, base),
	}, nil
}

type groupKey struct {
	category    string
	subCategory string
}

func buildBatch(sequence int, assets []Asset) DistributionBatch {
	batch := DistributionBatch{
		Sequence: sequence,
		AssetIds: make([]int, 0, len(assets)),
		Grouping: make(PeriodGrouping),
	}

	var order []groupKey
	counts := make(map[groupKey]int)
	seenCategory := make(map[string]bool)
	for _, a := range assets {
		batch.AssetIds = append(batch.AssetIds, a.ID)
		batch.Grouping.add(a.Category, a.SubCategory, a.ID)

		key := groupKey{a.Category, a.SubCategory}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
		if !seenCategory[a.Category] {
			seenCategory[a.Category] = true
			batch.Categories = append(batch.Categories, a.Category)
		}
	}

	batch.Criterion = groupingCriterion(order, counts)
	return batch
}

// groupingCriterion names the largest groups; ties keep first-appearance order.
func groupingCriterion(order []groupKey, counts map[groupKey]int) string {
	ranked := make([]groupKey, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})

	top := ranked
	if len(top) > criterionTopGroups {
		top = top[:criterionTopGroups]
	}
	parts := make([]string, 0, len(top))
	for _, k := range top {
		parts = append(parts, fmt.Sprintf("%s / %s (%d)", k.category, k.subCategory, counts[k]))
	}
	criterion := strings.Join(parts, ", ")
	if extra := len(ranked) - len(top); extra > 0 {
		criterion += fmt.Sprintf(" +%d more", extra)
	}
	return criterion
}

func validateBatches(batches []DistributionBatch, total int, periodCount int) error {
	if len(batches) != periodCount {
		return utils.InvariantError(ReasonDistributionPeriods, "distribution produced %d periods, expected %d", len(batches), periodCount)
	}
	seen := make(map[int]int, total)
	for _, b := range batches {
		if len(b.AssetIds) == 0 {
			return utils.InvariantError(ReasonDistributionEmpty, "distribution left period %d empty (%d assets for %d periods)", b.Sequence, total, periodCount)
		}
		for _, id := range b.AssetIds {
			if prev, ok := seen[id]; ok {
				return utils.InvariantError(ReasonDistributionDup, "asset %d assigned to periods %d and %d", id, prev, b.Sequence)
			}
			seen[id] = b.Sequence
		}
	}
	if len(seen) != total {
		return utils.InvariantError(ReasonDistributionCoverage, "distribution covers %d distinct assets, expected %d", len(seen), total)
	}
	return nil
}

func distributionStats(batches []DistributionBatch, target int) DistributionStats {
	stats := DistributionStats{
		RealCounts:         make([]int, 0, len(batches)),
		CategoriesByPeriod: make(map[int][]string, len(batches)),
	}
	deviationSum := 0
	for _, b := range batches {
		n := len(b.AssetIds)
		stats.RealCounts = append(stats.RealCounts, n)
		stats.CategoriesByPeriod[b.Sequence] = b.Categories
		if n > target {
			deviationSum += n - target
		} else {
			deviationSum += target - n
		}
	}
	if len(batches) > 0 {
		stats.DeviationAvg = decimal.NewFromInt(int64(deviationSum)).
			Div(decimal.NewFromInt(int64(len(batches)))).
			Round(2)
	}
	return stats
}

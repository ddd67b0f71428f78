package models

import "time"

// ComparisonRequest describes two periods to compare. Periods of
// different absolute dates are aligned by day offset from their own
// start, so equal-length periods line up day for day.
type ComparisonRequest struct {
	Period1Start          time.Time `json:"period1_start"`
	Period1End            time.Time `json:"period1_end"`
	Period2Start          time.Time `json:"period2_start"`
	Period2End            time.Time `json:"period2_end"`
	TenantID              string    `json:"tenant_id,omitempty"`
	ExcludeResourceGroups []string  `json:"exclude_resource_groups,omitempty"`
	Categories            []string  `json:"categories,omitempty"`
}

// PeriodSummary aggregates the included cost of one period.
type PeriodSummary struct {
	TotalCost    float64      `json:"totalCost"`
	DailyCosts   []DailyPoint `json:"dailyCosts"`
	DailyAverage float64      `json:"dailyAverage"`
	DaysInPeriod int          `json:"daysInPeriod"`
}

// DailyPoint is the cost of one normalized day. Day is 1-based and
// counted from the period's own start date.
type DailyPoint struct {
	Day  int     `json:"day"`
	Cost float64 `json:"cost"`
}

// VarianceRow is one breakdown line comparing both periods.
type VarianceRow struct {
	Name          string  `json:"name"`
	Period1Cost   float64 `json:"period1Cost"`
	Period2Cost   float64 `json:"period2Cost"`
	AbsoluteDiff  float64 `json:"absoluteDiff"`
	PercentChange float64 `json:"percentChange"`
	IsNew         bool    `json:"isNew"`
	IsRemoved     bool    `json:"isRemoved"`
}

// ResourceVarianceRow is a VarianceRow for a single external resource.
type ResourceVarianceRow struct {
	VarianceRow
	ResourceID     string `json:"resourceId"`
	ResourceGroup  string `json:"resourceGroup"`
	NotInInventory bool   `json:"notInInventory"`
}

// Variance compares the two period totals.
type Variance struct {
	AbsoluteDiff  float64 `json:"absoluteDiff"`
	PercentChange float64 `json:"percentChange"`
}

// ExcludedCost sums the cost filtered out by resource-group exclusions.
type ExcludedCost struct {
	Period1 float64 `json:"period1"`
	Period2 float64 `json:"period2"`
}

// ComparisonResult is computed fresh on every request, never persisted.
// Breakdown rows already carry both periods' costs, so the tables live
// at the top level instead of being repeated under each period.
type ComparisonResult struct {
	Period1         PeriodSummary         `json:"period1"`
	Period2         PeriodSummary         `json:"period2"`
	ByResourceGroup []VarianceRow         `json:"byResourceGroup"`
	ByCategory      []VarianceRow         `json:"byCategory"`
	ByResource      []ResourceVarianceRow `json:"byResource"`
	Variance        Variance              `json:"variance"`
	ExcludedCost    ExcludedCost          `json:"excludedCost"`
}

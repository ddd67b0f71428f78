package compare

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"costwatch/internal/database"
	"costwatch/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrInvalidPeriod — один из сравниваемых периодов задан некорректно.
var ErrInvalidPeriod = errors.New("invalid comparison period")

// CostStore is the read surface the engine needs from the primary store.
type CostStore interface {
	GetCostRecordsPage(ctx context.Context, filter database.CostRecordFilter, limit, offset int) ([]models.CostRecord, error)
	GetKnownResourceIDs(ctx context.Context, tenantID string) (map[string]struct{}, error)
}

// Engine computes period-over-period variance reports from already
// ingested cost records. Results are derived on every call and never
// persisted.
type Engine struct {
	store    CostStore
	pageSize int
	logger   *zerolog.Logger
}

func NewEngine(store CostStore, pageSize int, logger *zerolog.Logger) *Engine {
	if pageSize <= 0 {
		pageSize = models.DefaultComparisonPageSize
	}
	return &Engine{store: store, pageSize: pageSize, logger: logger}
}

// periodData is one period's rows partitioned into included and
// excluded sets, pre-aggregated along every breakdown dimension.
type periodData struct {
	start        time.Time
	days         int
	total        decimal.Decimal
	excluded     decimal.Decimal
	daily        map[int]decimal.Decimal
	byGroup      map[string]decimal.Decimal
	byCategory   map[string]decimal.Decimal
	byResource   map[string]decimal.Decimal
	resourceMeta map[string]models.CostRecord
}

// Compare builds the full variance report for the two requested
// periods. Periods of unequal length are allowed; the daily series are
// aligned by each period's own day offset.
func (e *Engine) Compare(ctx context.Context, req models.ComparisonRequest) (*models.ComparisonResult, error) {
	if err := validatePeriods(req); err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(req.ExcludeResourceGroups))
	for _, g := range req.ExcludeResourceGroups {
		excluded[g] = struct{}{}
	}

	p1, err := e.loadPeriod(ctx, req, req.Period1Start, req.Period1End, excluded)
	if err != nil {
		return nil, fmt.Errorf("load period 1: %w", err)
	}
	p2, err := e.loadPeriod(ctx, req, req.Period2Start, req.Period2End, excluded)
	if err != nil {
		return nil, fmt.Errorf("load period 2: %w", err)
	}

	// Пометка ресурсов, исчезнувших из инвентаря, возможна только
	// в пределах одного арендатора
	var known map[string]struct{}
	if req.TenantID != "" {
		known, err = e.store.GetKnownResourceIDs(ctx, req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("load known resources: %w", err)
		}
	}

	result := &models.ComparisonResult{
		Period1:         summarize(p1),
		Period2:         summarize(p2),
		ByResourceGroup: varianceRows(p1.byGroup, p2.byGroup),
		ByCategory:      varianceRows(p1.byCategory, p2.byCategory),
		ByResource:      resourceRows(p1, p2, known),
		Variance: models.Variance{
			AbsoluteDiff:  p1.total.Sub(p2.total).InexactFloat64(),
			PercentChange: percentChange(p1.total, p2.total),
		},
		ExcludedCost: models.ExcludedCost{
			Period1: p1.excluded.InexactFloat64(),
			Period2: p2.excluded.InexactFloat64(),
		},
	}

	e.logger.Debug().
		Str("tenant_id", req.TenantID).
		Float64("period1_total", result.Period1.TotalCost).
		Float64("period2_total", result.Period2.TotalCost).
		Msg("comparison computed")

	return result, nil
}

func validatePeriods(req models.ComparisonRequest) error {
	if req.Period1End.Before(req.Period1Start) {
		return fmt.Errorf("%w: period 1 end before start", ErrInvalidPeriod)
	}
	if req.Period2End.Before(req.Period2Start) {
		return fmt.Errorf("%w: period 2 end before start", ErrInvalidPeriod)
	}
	return nil
}

// loadPeriod pages through the store and folds every row into the
// period aggregates. Paging bypasses any single-query row cap.
func (e *Engine) loadPeriod(ctx context.Context, req models.ComparisonRequest, start, end time.Time, excludedGroups map[string]struct{}) (*periodData, error) {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	p := &periodData{
		start:        start,
		days:         int(end.Sub(start).Hours()/24) + 1,
		daily:        make(map[int]decimal.Decimal),
		byGroup:      make(map[string]decimal.Decimal),
		byCategory:   make(map[string]decimal.Decimal),
		byResource:   make(map[string]decimal.Decimal),
		resourceMeta: make(map[string]models.CostRecord),
	}

	filter := database.CostRecordFilter{
		TenantID:   req.TenantID,
		Start:      start.Format(models.DateLayout),
		End:        end.Format(models.DateLayout),
		Categories: req.Categories,
	}

	for offset := 0; ; offset += e.pageSize {
		page, err := e.store.GetCostRecordsPage(ctx, filter, e.pageSize, offset)
		if err != nil {
			return nil, err
		}
		for i := range page {
			p.fold(&page[i], excludedGroups)
		}
		if len(page) < e.pageSize {
			break
		}
	}

	return p, nil
}

func (p *periodData) fold(r *models.CostRecord, excludedGroups map[string]struct{}) {
	if _, skip := excludedGroups[r.ResourceGroup]; skip {
		p.excluded = p.excluded.Add(r.CostAmount)
		return
	}

	day, ok := p.dayOffset(r.UsageDate)
	if !ok {
		return
	}

	p.total = p.total.Add(r.CostAmount)
	p.daily[day] = p.daily[day].Add(r.CostAmount)
	p.byGroup[r.ResourceGroup] = p.byGroup[r.ResourceGroup].Add(r.CostAmount)
	p.byCategory[r.Category] = p.byCategory[r.Category].Add(r.CostAmount)
	p.byResource[r.ExternalResourceID] = p.byResource[r.ExternalResourceID].Add(r.CostAmount)
	if _, seen := p.resourceMeta[r.ExternalResourceID]; !seen {
		p.resourceMeta[r.ExternalResourceID] = *r
	}
}

// dayOffset maps a usage date to its 1-based day number inside the
// period.
func (p *periodData) dayOffset(usageDate string) (int, bool) {
	t, err := time.Parse(models.DateLayout, usageDate)
	if err != nil {
		return 0, false
	}
	day := int(t.Sub(p.start).Hours()/24) + 1
	if day < 1 || day > p.days {
		return 0, false
	}
	return day, true
}

func summarize(p *periodData) models.PeriodSummary {
	points := make([]models.DailyPoint, 0, len(p.daily))
	for day, cost := range p.daily {
		points = append(points, models.DailyPoint{Day: day, Cost: cost.InexactFloat64()})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })

	summary := models.PeriodSummary{
		TotalCost:    p.total.InexactFloat64(),
		DailyCosts:   points,
		DaysInPeriod: p.days,
	}
	if p.days > 0 {
		summary.DailyAverage = p.total.Div(decimal.NewFromInt(int64(p.days))).InexactFloat64()
	}
	return summary
}

// varianceRows merges two per-name aggregates into breakdown rows
// sorted by period-1 cost descending.
func varianceRows(m1, m2 map[string]decimal.Decimal) []models.VarianceRow {
	names := make(map[string]struct{}, len(m1)+len(m2))
	for name := range m1 {
		names[name] = struct{}{}
	}
	for name := range m2 {
		names[name] = struct{}{}
	}

	rows := make([]models.VarianceRow, 0, len(names))
	for name := range names {
		rows = append(rows, buildRow(name, m1[name], m2[name]))
	}
	sortRows(rows)
	return rows
}

func resourceRows(p1, p2 *periodData, known map[string]struct{}) []models.ResourceVarianceRow {
	ids := make(map[string]struct{}, len(p1.byResource)+len(p2.byResource))
	for id := range p1.byResource {
		ids[id] = struct{}{}
	}
	for id := range p2.byResource {
		ids[id] = struct{}{}
	}

	rows := make([]models.ResourceVarianceRow, 0, len(ids))
	for id := range ids {
		meta, ok := p1.resourceMeta[id]
		if !ok {
			meta = p2.resourceMeta[id]
		}

		row := models.ResourceVarianceRow{
			VarianceRow:   buildRow(id, p1.byResource[id], p2.byResource[id]),
			ResourceID:    id,
			ResourceGroup: meta.ResourceGroup,
		}
		if known != nil {
			_, present := known[id]
			row.NotInInventory = !present
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Period1Cost != rows[j].Period1Cost {
			return rows[i].Period1Cost > rows[j].Period1Cost
		}
		return rows[i].ResourceID < rows[j].ResourceID
	})

	if len(rows) > models.TopResourcesLimit {
		rows = rows[:models.TopResourcesLimit]
	}
	return rows
}

func buildRow(name string, c1, c2 decimal.Decimal) models.VarianceRow {
	return models.VarianceRow{
		Name:          name,
		Period1Cost:   c1.InexactFloat64(),
		Period2Cost:   c2.InexactFloat64(),
		AbsoluteDiff:  c1.Sub(c2).InexactFloat64(),
		PercentChange: percentChange(c1, c2),
		IsNew:         c2.IsZero() && c1.IsPositive(),
		IsRemoved:     c1.IsZero(),
	}
}

func sortRows(rows []models.VarianceRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Period1Cost != rows[j].Period1Cost {
			return rows[i].Period1Cost > rows[j].Period1Cost
		}
		return rows[i].Name < rows[j].Name
	})
}

// percentChange is relative to the period-2 cost. A zero baseline maps
// to 100% when period 1 has cost and 0% when both are zero.
func percentChange(c1, c2 decimal.Decimal) float64 {
	if c2.IsZero() {
		if c1.IsPositive() {
			return 100.0
		}
		return 0.0
	}
	hundred := decimal.NewFromInt(100)
	return c1.Sub(c2).Div(c2).Mul(hundred).InexactFloat64()
}

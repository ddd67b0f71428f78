package compare

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"costwatch/internal/database"
	"costwatch/internal/logging"
	"costwatch/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB, records ...models.CostRecord) {
	t.Helper()
	_, err := db.UpsertCostRecords(context.Background(), records)
	require.NoError(t, err)
}

func record(resource, group, category, date string, amount float64) models.CostRecord {
	return models.CostRecord{
		TenantID:           "tenant-a",
		ExternalResourceID: resource,
		ResourceGroup:      group,
		Category:           category,
		Meter:              "meter",
		CostAmount:         decimal.NewFromFloat(amount),
		Currency:           "EUR",
		UsageDate:          date,
	}
}

func period(y1 int, m1 time.Month, d1, y2 int, m2 time.Month, d2 int) (time.Time, time.Time) {
	return time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC), time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
}

func TestCompareTotalsAndVariance(t *testing.T) {
	db := setupStore(t)
	seed(t, db,
		record("vm-1", "rg-a", "Compute", "2026-02-01", 150),
		record("vm-1", "rg-a", "Compute", "2026-01-01", 100),
	)

	engine := NewEngine(db, 0, logging.Nop())
	p1s, p1e := period(2026, time.February, 1, 2026, time.February, 28)
	p2s, p2e := period(2026, time.January, 1, 2026, time.January, 28)

	result, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
		TenantID: "tenant-a",
	})
	require.NoError(t, err)

	assert.Equal(t, 150.0, result.Period1.TotalCost)
	assert.Equal(t, 100.0, result.Period2.TotalCost)
	assert.Equal(t, 50.0, result.Variance.AbsoluteDiff)
	assert.Equal(t, 50.0, result.Variance.PercentChange)
	assert.Equal(t, 28, result.Period1.DaysInPeriod)
	assert.InDelta(t, 150.0/28, result.Period1.DailyAverage, 1e-9)
}

func TestComparePercentChangeZeroBaseline(t *testing.T) {
	db := setupStore(t)
	seed(t, db, record("vm-1", "rg-a", "Compute", "2026-02-01", 150))

	engine := NewEngine(db, 0, logging.Nop())
	p1s, p1e := period(2026, time.February, 1, 2026, time.February, 28)
	p2s, p2e := period(2026, time.January, 1, 2026, time.January, 28)

	result, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
	})
	require.NoError(t, err)

	// Период 2 пуст: 100% при положительном периоде 1
	assert.Equal(t, 100.0, result.Variance.PercentChange)

	empty, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Period1End:   time.Date(2020, 1, 28, 0, 0, 0, 0, time.UTC),
		Period2Start: p2s, Period2End: p2e,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.Variance.PercentChange)
}

func TestCompareDayOffsetAlignment(t *testing.T) {
	db := setupStore(t)
	seed(t, db,
		record("vm-1", "rg-a", "Compute", "2026-02-03", 5), // день 3 периода 1
		record("vm-2", "rg-a", "Compute", "2026-01-12", 7), // день 3 периода 2
	)

	engine := NewEngine(db, 0, logging.Nop())
	result, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		Period1End:   time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC),
		Period2Start: time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC),
		Period2End:   time.Date(2026, time.January, 19, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, result.Period1.DailyCosts, 1)
	assert.Equal(t, models.DailyPoint{Day: 3, Cost: 5}, result.Period1.DailyCosts[0])
	require.Len(t, result.Period2.DailyCosts, 1)
	assert.Equal(t, models.DailyPoint{Day: 3, Cost: 7}, result.Period2.DailyCosts[0])
}

func TestCompareExcludedResourceGroups(t *testing.T) {
	db := setupStore(t)
	seed(t, db,
		record("vm-1", "rg-keep", "Compute", "2026-02-01", 40),
		record("vm-2", "rg-skip", "Compute", "2026-02-01", 60),
		record("vm-2", "rg-skip", "Compute", "2026-01-01", 30),
	)

	engine := NewEngine(db, 0, logging.Nop())
	p1s, p1e := period(2026, time.February, 1, 2026, time.February, 28)
	p2s, p2e := period(2026, time.January, 1, 2026, time.January, 28)

	result, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
		ExcludeResourceGroups: []string{"rg-skip"},
	})
	require.NoError(t, err)

	assert.Equal(t, 40.0, result.Period1.TotalCost)
	assert.Equal(t, 0.0, result.Period2.TotalCost)
	assert.Equal(t, 60.0, result.ExcludedCost.Period1)
	assert.Equal(t, 30.0, result.ExcludedCost.Period2)

	for _, row := range result.ByResourceGroup {
		assert.NotEqual(t, "rg-skip", row.Name)
	}
}

func TestCompareBreakdownFlags(t *testing.T) {
	db := setupStore(t)
	seed(t, db,
		record("vm-new", "rg-a", "Compute", "2026-02-01", 10),
		record("vm-gone", "rg-a", "Storage", "2026-01-01", 20),
		record("vm-both", "rg-a", "Compute", "2026-02-01", 5),
		record("vm-both", "rg-a", "Compute", "2026-01-01", 4),
	)

	engine := NewEngine(db, 0, logging.Nop())
	p1s, p1e := period(2026, time.February, 1, 2026, time.February, 28)
	p2s, p2e := period(2026, time.January, 1, 2026, time.January, 28)

	result, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
	})
	require.NoError(t, err)

	byID := make(map[string]models.ResourceVarianceRow)
	for _, row := range result.ByResource {
		byID[row.ResourceID] = row
	}
	require.Len(t, byID, 3)

	assert.True(t, byID["vm-new"].IsNew)
	assert.False(t, byID["vm-new"].IsRemoved)
	assert.True(t, byID["vm-gone"].IsRemoved)
	assert.False(t, byID["vm-both"].IsNew)
	assert.InDelta(t, 25.0, byID["vm-both"].PercentChange, 1e-9)
}

func TestCompareTopResourcesLimit(t *testing.T) {
	db := setupStore(t)
	var records []models.CostRecord
	for i := 0; i < models.TopResourcesLimit+5; i++ {
		records = append(records, record(
			"vm-"+string(rune('a'+i)), "rg-a", "Compute", "2026-02-01", float64(i+1)))
	}
	seed(t, db, records...)

	engine := NewEngine(db, 0, logging.Nop())
	p1s, p1e := period(2026, time.February, 1, 2026, time.February, 28)
	p2s, p2e := period(2026, time.January, 1, 2026, time.January, 28)

	result, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
	})
	require.NoError(t, err)

	require.Len(t, result.ByResource, models.TopResourcesLimit)
	// Отсортировано по стоимости первого периода по убыванию
	assert.Equal(t, float64(models.TopResourcesLimit+5), result.ByResource[0].Period1Cost)
}

func TestCompareNotInInventory(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	seed(t, db,
		record("vm-live", "rg-a", "Compute", "2026-02-01", 10),
		record("vm-dead", "rg-a", "Compute", "2026-02-01", 20),
	)
	require.NoError(t, db.UpsertResource(ctx, "tenant-a", "vm-live", "rg-a", "live vm"))

	engine := NewEngine(db, 0, logging.Nop())
	p1s, p1e := period(2026, time.February, 1, 2026, time.February, 28)
	p2s, p2e := period(2026, time.January, 1, 2026, time.January, 28)

	result, err := engine.Compare(ctx, models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
		TenantID: "tenant-a",
	})
	require.NoError(t, err)

	byID := make(map[string]models.ResourceVarianceRow)
	for _, row := range result.ByResource {
		byID[row.ResourceID] = row
	}
	assert.False(t, byID["vm-live"].NotInInventory)
	assert.True(t, byID["vm-dead"].NotInInventory)

	// Без фильтра по арендатору инвентарь не проверяется
	global, err := engine.Compare(ctx, models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
	})
	require.NoError(t, err)
	for _, row := range global.ByResource {
		assert.False(t, row.NotInInventory)
	}
}

func TestComparePagesThroughStore(t *testing.T) {
	db := setupStore(t)
	var records []models.CostRecord
	for day := 1; day <= 9; day++ {
		records = append(records, record(
			"vm-1", "rg-a", "Compute",
			time.Date(2026, time.February, day, 0, 0, 0, 0, time.UTC).Format(models.DateLayout),
			1))
	}
	seed(t, db, records...)

	engine := NewEngine(db, 2, logging.Nop())
	p1s, p1e := period(2026, time.February, 1, 2026, time.February, 28)
	p2s, p2e := period(2026, time.January, 1, 2026, time.January, 28)

	result, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: p1s, Period1End: p1e,
		Period2Start: p2s, Period2End: p2e,
	})
	require.NoError(t, err)
	assert.Equal(t, 9.0, result.Period1.TotalCost)
	assert.Len(t, result.Period1.DailyCosts, 9)
}

func TestCompareInvalidPeriod(t *testing.T) {
	db := setupStore(t)
	engine := NewEngine(db, 0, logging.Nop())

	_, err := engine.Compare(context.Background(), models.ComparisonRequest{
		Period1Start: time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC),
		Period1End:   time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		Period2Start: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		Period2End:   time.Date(2026, time.January, 28, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPeriod))
}

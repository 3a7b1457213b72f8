package datasets

import (
	"database/sql"
	"math"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/beacon/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)
	return NewRepository(db)
}

func TestClassifier(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		header string
		want   Role
	}{
		{"date", RoleDate},
		{"Date", RoleDate},
		{"AS_OF", RoleDate},
		{"Valuation Date", RoleDate},
		{"quarter_end", RoleDate},
		{"cashflow", RoleCashflow},
		{"Cash Flow", RoleCashflow},
		{"contribution", RoleCashflow},
		{"Distributions", RoleCashflow},
		{"CF", RoleCashflow},
		{"amount", RoleCashflow},
		{"nav", RoleNAV},
		{"NAV", RoleNAV},
		{"Net Asset Value", RoleNAV},
		{"residual_value", RoleNAV},
		{"price", RolePrice},
		{"Close", RolePrice},
		{"Index Level", RolePrice},
		{"index", RolePrice},
		{"value", RolePrice},
		{"fund manager notes", RoleUnknown},
		{"", RoleUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.header), "header %q", tt.header)
		})
	}
}

func TestParseFundCSV(t *testing.T) {
	input := strings.Join([]string{
		"Date,Cash Flow,NAV",
		"2022-01-03,-1000000,1000000",
		"2022-04-01,\"-500,000\",1550000",
		"2022-07-01,300000,",
	}, "\n")

	records, err := ParseFundCSV(strings.NewReader(input), NewClassifier())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, day(2022, 1, 3), records[0].Date)
	assert.Equal(t, -1_000_000.0, records[0].Cashflow)
	assert.Equal(t, 1_000_000.0, records[0].NAV)
	assert.Equal(t, -500_000.0, records[1].Cashflow, "thousands separators are accepted")
	assert.True(t, math.IsNaN(records[2].NAV), "empty NAV cell stays unreported")
}

func TestParseFundCSV_Errors(t *testing.T) {
	c := NewClassifier()

	_, err := ParseFundCSV(strings.NewReader("notes,stuff\n1,2"), c)
	assert.ErrorContains(t, err, "no date column")

	_, err = ParseFundCSV(strings.NewReader("date,notes\n2022-01-03,x"), c)
	assert.ErrorContains(t, err, "no cash-flow column")

	_, err = ParseFundCSV(strings.NewReader("date,cashflow\nbad-date,100"), c)
	assert.ErrorContains(t, err, "row 2")

	_, err = ParseFundCSV(strings.NewReader("date,cashflow"), c)
	assert.ErrorContains(t, err, "at least one data row")
}

func TestParseIndexCSV(t *testing.T) {
	input := "Date,Close\n2022-01-03,4000.5\n2022-01-04,4012.25\n"

	points, err := ParseIndexCSV(strings.NewReader(input), NewClassifier())
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 4000.5, points[0].Price)
	assert.Equal(t, day(2022, 1, 4), points[1].Date)
}

func TestRepository_FundRoundTrip(t *testing.T) {
	repo := setupRepo(t)

	records := []domain.FundRecord{
		{Date: day(2022, 1, 3), Cashflow: -1000, NAV: 1000},
		{Date: day(2022, 4, 1), Cashflow: 500, NAV: math.NaN()},
	}

	ds, err := repo.CreateFund("Fund IV", records)
	require.NoError(t, err)
	assert.Equal(t, KindFund, ds.Kind)
	assert.Equal(t, 2, ds.Rows)

	loaded, err := repo.FundRecords(ds.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, -1000.0, loaded[0].Cashflow)
	assert.Equal(t, 1000.0, loaded[0].NAV)
	assert.True(t, math.IsNaN(loaded[1].NAV), "NULL nav loads back as NaN")
}

func TestRepository_DuplicateDatesRejected(t *testing.T) {
	repo := setupRepo(t)

	records := []domain.FundRecord{
		{Date: day(2022, 1, 3), Cashflow: -1000, NAV: math.NaN()},
		{Date: day(2022, 1, 3), Cashflow: 500, NAV: math.NaN()},
	}

	_, err := repo.CreateFund("dup", records)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateDate)

	// The failed upload must not leave a half-written dataset behind.
	all, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRepository_IndexRoundTrip(t *testing.T) {
	repo := setupRepo(t)

	points := []domain.PricePoint{
		{Date: day(2022, 1, 3), Price: 4000},
		{Date: day(2022, 1, 4), Price: 4010},
	}
	ds, err := repo.CreateIndex("SPX", points)
	require.NoError(t, err)

	loaded, err := repo.PricePoints(ds.ID)
	require.NoError(t, err)
	assert.Equal(t, points, loaded)

	// Kind mismatch is an error, not an empty result.
	_, err = repo.FundRecords(ds.ID)
	assert.ErrorContains(t, err, "not fund")
}

func TestRepository_GetListDelete(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ds, err := repo.CreateIndex("SPX", []domain.PricePoint{{Date: day(2022, 1, 3), Price: 1}})
	require.NoError(t, err)

	got, err := repo.Get(ds.ID)
	require.NoError(t, err)
	assert.Equal(t, "SPX", got.Name)
	assert.Equal(t, 1, got.Rows)

	all, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ds.ID))
	assert.ErrorIs(t, repo.Delete(ds.ID), ErrNotFound)
}

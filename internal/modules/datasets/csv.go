package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/aristath/beacon/internal/domain"
)

// columnMap is the classified layout of an uploaded CSV.
type columnMap struct {
	date     int
	cashflow int
	nav      int
	price    int
}

// ParseFundCSV reads a fund upload: one date column, one cash-flow
// column, optionally a NAV column. Extra columns are ignored.
func ParseFundCSV(r io.Reader, classifier Classifier) ([]domain.FundRecord, error) {
	header, rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	cols, err := classifyHeader(header, classifier)
	if err != nil {
		return nil, err
	}
	if cols.cashflow < 0 {
		return nil, fmt.Errorf("no cash-flow column recognized in header %v", header)
	}

	records := make([]domain.FundRecord, 0, len(rows))
	for i, row := range rows {
		date, err := domain.ParseDate(row[cols.date])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		cashflow, err := parseNumber(row[cols.cashflow])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad cash flow: %w", i+2, err)
		}
		nav := math.NaN()
		if cols.nav >= 0 {
			if cell := strings.TrimSpace(row[cols.nav]); cell != "" {
				nav, err = parseNumber(cell)
				if err != nil {
					return nil, fmt.Errorf("row %d: bad NAV: %w", i+2, err)
				}
			}
		}
		records = append(records, domain.FundRecord{Date: date, Cashflow: cashflow, NAV: nav})
	}
	return records, nil
}

// ParseIndexCSV reads an index upload: one date column and one price or
// level column.
func ParseIndexCSV(r io.Reader, classifier Classifier) ([]domain.PricePoint, error) {
	header, rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	cols, err := classifyHeader(header, classifier)
	if err != nil {
		return nil, err
	}
	valueCol := cols.price
	if valueCol < 0 {
		// A lone NAV-like column in an index upload still carries the level.
		valueCol = cols.nav
	}
	if valueCol < 0 {
		return nil, fmt.Errorf("no price column recognized in header %v", header)
	}

	points := make([]domain.PricePoint, 0, len(rows))
	for i, row := range rows {
		date, err := domain.ParseDate(row[cols.date])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		price, err := parseNumber(row[valueCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad price: %w", i+2, err)
		}
		points = append(points, domain.PricePoint{Date: date, Price: price})
	}
	return points, nil
}

func readCSV(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(all) < 2 {
		return nil, nil, fmt.Errorf("CSV needs a header row and at least one data row")
	}
	return all[0], all[1:], nil
}

func classifyHeader(header []string, classifier Classifier) (columnMap, error) {
	cols := columnMap{date: -1, cashflow: -1, nav: -1, price: -1}
	for i, h := range header {
		switch classifier.Classify(h) {
		case RoleDate:
			if cols.date < 0 {
				cols.date = i
			}
		case RoleCashflow:
			if cols.cashflow < 0 {
				cols.cashflow = i
			}
		case RoleNAV:
			if cols.nav < 0 {
				cols.nav = i
			}
		case RolePrice:
			if cols.price < 0 {
				cols.price = i
			}
		}
	}
	if cols.date < 0 {
		return cols, fmt.Errorf("no date column recognized in header %v", header)
	}
	return cols, nil
}

// parseNumber accepts plain floats plus thousands separators, which
// spreadsheet exports love to include.
func parseNumber(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(cleaned, 64)
}

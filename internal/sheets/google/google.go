package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"tally/internal/core"
	ports "tally/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Report rows are laid out as A=household, B=month, C=total, D=categories, E=generated at.
const lastColumn = "E"

var reportHeader = []any{"Household", "Month", "Total", "Categories", "Generated at"}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	reportsSheet  string

	// writeMu serializes WriteReport: a new row's index comes from the
	// row count read just before the update.
	writeMu sync.Mutex
}

// Ensure interface conformance
var (
	_ ports.ReportWriter = (*Client)(nil)
	_ ports.ReportLister = (*Client)(nil)
)

// New creates a report mirror on spreadsheetID. Without options the client
// authenticates with service account credentials from the environment.
func New(ctx context.Context, spreadsheetID, reportsSheet string, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	reportsSheet = strings.TrimSpace(reportsSheet)
	if reportsSheet == "" {
		reportsSheet = "Reports"
	}

	var (
		svc *gsheet.Service
		err error
	)
	if len(opts) == 0 {
		svc, err = newSheetsService(ctx)
	} else {
		svc, err = gsheet.NewService(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID, reportsSheet: reportsSheet}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// WriteReport upserts the row for (household, month).
func (c *Client) WriteReport(ctx context.Context, r core.MonthlyReport) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	if r.HouseholdID == "" {
		return fmt.Errorf("write report: %w", core.ErrEmptyIdentifier)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	keys, err := c.readRange(ctx, fmt.Sprintf("%s!A:B", c.reportsSheet))
	if err != nil {
		return err
	}

	row, found := findReportRow(keys, r.HouseholdID, r.Month)
	if !found {
		if len(keys) == 0 {
			if err := c.updateRow(ctx, 1, reportHeader); err != nil {
				return fmt.Errorf("write header: %w", err)
			}
			row = 2
		} else {
			row = len(keys) + 1
		}
	}

	if err := c.updateRow(ctx, row, reportRow(r)); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Mirrored monthly report to Google Sheets",
		"household_id", r.HouseholdID,
		"month", string(r.Month),
		"row", row,
		"replaced", found)
	return nil
}

// ListReports reads every mirrored report for month.
func (c *Client) ListReports(ctx context.Context, month core.MonthKey) ([]core.MonthlyReport, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	values, err := c.readRange(ctx, fmt.Sprintf("%s!A:%s", c.reportsSheet, lastColumn))
	if err != nil {
		return nil, err
	}
	var out []core.MonthlyReport
	for _, row := range values {
		r, ok := parseReportRow(toStrings(row))
		if !ok || r.Month != month {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HouseholdID < out[j].HouseholdID })
	return out, nil
}

func (c *Client) readRange(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (c *Client) updateRow(ctx context.Context, row int, values []any) error {
	rng := fmt.Sprintf("%s!A%d:%s%d", c.reportsSheet, row, lastColumn, row)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// findReportRow returns the 1-based sheet row holding (householdID, month).
func findReportRow(values [][]interface{}, householdID string, month core.MonthKey) (int, bool) {
	for i, row := range values {
		cols := toStrings(row)
		if len(cols) < 2 {
			continue
		}
		if cols[0] == householdID && cols[1] == string(month) {
			return i + 1, true
		}
	}
	return 0, false
}

func reportRow(r core.MonthlyReport) []any {
	ids := make([]string, 0, len(r.CategoryTotals))
	for id := range r.CategoryTotals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id + "=" + r.CategoryTotals[id].Decimal().StringFixed(2)
	}
	return []any{
		r.HouseholdID,
		string(r.Month),
		r.TotalExpenses.Decimal().StringFixed(2),
		strings.Join(parts, "; "),
		r.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

func parseReportRow(cols []string) (core.MonthlyReport, bool) {
	if len(cols) < 3 {
		return core.MonthlyReport{}, false
	}
	month, err := core.ParseMonthKey(cols[1])
	if err != nil {
		// header or foreign row
		return core.MonthlyReport{}, false
	}
	total, err := core.ParseDecimalToCents(cols[2])
	if err != nil {
		return core.MonthlyReport{}, false
	}
	r := core.MonthlyReport{
		HouseholdID:    cols[0],
		Month:          month,
		TotalExpenses:  core.Money{Cents: total},
		CategoryTotals: map[string]core.Money{},
	}
	if len(cols) > 3 && cols[3] != "" {
		for _, part := range strings.Split(cols[3], ";") {
			id, amount, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			cents, err := core.ParseDecimalToCents(amount)
			if err != nil {
				continue
			}
			r.CategoryTotals[id] = core.Money{Cents: cents}
		}
	}
	if len(cols) > 4 {
		if t, err := time.Parse(time.RFC3339, cols[4]); err == nil {
			r.GeneratedAt = t
		}
	}
	return r, true
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

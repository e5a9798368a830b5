package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"

	"tally/internal/core"
)

var rowPattern = regexp.MustCompile(`!A(\d+):`)

// fakeSheet serves the subset of the Sheets values API the client uses.
type fakeSheet struct {
	mu      sync.Mutex
	rows    [][]any
	updates int
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := strings.Index(r.URL.Path, "/values/")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	rng := r.URL.Path[idx+len("/values/"):]

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "majorDimension": "ROWS", "values": f.rows})
	case http.MethodPut:
		m := rowPattern.FindStringSubmatch(rng)
		if m == nil {
			http.Error(w, "bad range "+rng, http.StatusBadRequest)
			return
		}
		row, _ := strconv.Atoi(m[1])
		var body struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Values) != 1 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		for len(f.rows) < row {
			f.rows = append(f.rows, []any{})
		}
		f.rows[row-1] = body.Values[0]
		f.updates++
		_ = json.NewEncoder(w).Encode(map[string]any{"updatedRange": rng, "updatedRows": 1})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeSheet) {
	t.Helper()
	fake := &fakeSheet{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), "sheet-1", "Reports",
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, fake
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), "  ", "Reports")
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriteReportUpsertsRow(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)
	generated := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	march := core.MonthlyReport{
		HouseholdID:    "h1",
		Month:          "2024-03",
		TotalExpenses:  core.Money{Cents: 800},
		CategoryTotals: map[string]core.Money{"food": {Cents: 500}, "rent": {Cents: 300}},
		GeneratedAt:    generated,
	}
	if err := c.WriteReport(ctx, march); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	if err := c.WriteReport(ctx, core.MonthlyReport{HouseholdID: "h2", Month: "2024-03", GeneratedAt: generated}); err != nil {
		t.Fatal(err)
	}

	march.TotalExpenses.Cents = 500
	march.CategoryTotals = map[string]core.Money{"food": {Cents: 500}}
	if err := c.WriteReport(ctx, march); err != nil {
		t.Fatal(err)
	}

	if len(fake.rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 reports: %v", len(fake.rows), fake.rows)
	}
	if fake.rows[0][0] != "Household" {
		t.Errorf("header = %v", fake.rows[0])
	}

	got, err := c.ListReports(ctx, "2024-03")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("reports = %+v", got)
	}
	if got[0].HouseholdID != "h1" || got[0].TotalExpenses.Cents != 500 || len(got[0].CategoryTotals) != 1 {
		t.Errorf("h1 report = %+v", got[0])
	}
	if !got[0].GeneratedAt.Equal(generated) {
		t.Errorf("generated at = %v", got[0].GeneratedAt)
	}
}

func TestWriteReportConcurrentHouseholds(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)
	generated := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	households := []string{"h1", "h2", "h3", "h4"}
	var wg sync.WaitGroup
	errs := make(chan error, len(households))
	for _, id := range households {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.WriteReport(ctx, core.MonthlyReport{HouseholdID: id, Month: "2024-03", GeneratedAt: generated})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("WriteReport() error = %v", err)
		}
	}

	if len(fake.rows) != 1+len(households) {
		t.Fatalf("rows = %d, want header + %d reports: %v", len(fake.rows), len(households), fake.rows)
	}
	got, err := c.ListReports(ctx, "2024-03")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(households) {
		t.Errorf("listed %d reports, want %d", len(got), len(households))
	}
}

func TestReportRowRoundTrip(t *testing.T) {
	r := core.MonthlyReport{
		HouseholdID:    "h1",
		Month:          "2024-03",
		TotalExpenses:  core.Money{Cents: 1234},
		CategoryTotals: map[string]core.Money{"rent": {Cents: 1000}, "food": {Cents: 234}},
		GeneratedAt:    time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	row := reportRow(r)
	if row[2] != "12.34" || row[3] != "food=2.34; rent=10.00" {
		t.Fatalf("row = %v", row)
	}

	back, ok := parseReportRow(toStrings(row))
	if !ok {
		t.Fatal("parseReportRow rejected its own row")
	}
	if back.TotalExpenses.Cents != 1234 || back.CategoryTotals["rent"].Cents != 1000 {
		t.Errorf("parsed = %+v", back)
	}
}

func TestParseReportRowSkipsForeignRows(t *testing.T) {
	tests := []struct {
		name string
		cols []string
	}{
		{"header", []string{"Household", "Month", "Total"}},
		{"short", []string{"h1", "2024-03"}},
		{"bad total", []string{"h1", "2024-03", "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseReportRow(tt.cols); ok {
				t.Errorf("parseReportRow(%v) accepted", tt.cols)
			}
		})
	}
}

func TestFindReportRow(t *testing.T) {
	values := [][]interface{}{
		{"Household", "Month"},
		{"h1", "2024-02"},
		{},
		{"h1", "2024-03"},
	}
	if row, ok := findReportRow(values, "h1", "2024-03"); !ok || row != 4 {
		t.Errorf("findReportRow = %d, %v", row, ok)
	}
	if _, ok := findReportRow(values, "h2", "2024-03"); ok {
		t.Error("found a row for an unknown household")
	}
}

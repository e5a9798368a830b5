package sheets

import (
	"context"

	"tally/internal/core"
)

// Ports for outbound report mirrors.
type (
	// ReportWriter mirrors a monthly report outside the document store.
	// Writing the same (household, month) twice replaces the earlier row.
	ReportWriter interface {
		WriteReport(ctx context.Context, r core.MonthlyReport) error
	}

	// ReportLister returns mirrored reports for a month, ordered by household.
	ReportLister interface {
		ListReports(ctx context.Context, month core.MonthKey) ([]core.MonthlyReport, error)
	}
)

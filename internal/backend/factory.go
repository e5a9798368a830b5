package backend

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/sheets"
	gsheet "tally/internal/sheets/google"
	"tally/internal/store/memory"
	"tally/internal/store/mongo"
	"tally/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MongoBackend:
		return f.createMongoBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	st, err := sqlite.Open(config.SQLiteDBPath, config.TxMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		"component", "backend",
		"db_path", config.SQLiteDBPath,
		"tx_max_attempts", config.TxMaxAttempts)

	return &BackendResult{
		Backend: st,
		Cleanup: st.Close,
	}, nil
}

func (f *DefaultFactory) createMongoBackend(ctx context.Context, config Config) (*BackendResult, error) {
	st, err := mongo.Open(ctx, config.MongoURI, config.MongoDatabase, config.TxMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB store: %w", err)
	}

	f.logger.Info("Initialized MongoDB backend",
		"component", "backend",
		"database", config.MongoDatabase,
		"tx_max_attempts", config.TxMaxAttempts)

	return &BackendResult{
		Backend: st,
		Cleanup: st.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	st := memory.New(config.TxMaxAttempts)

	f.logger.Info("Initialized memory backend", "component", "backend")

	return &BackendResult{
		Backend: st,
		Cleanup: st.Close,
	}, nil
}

// CreateExporter implements Factory.CreateExporter
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.ReportWriter, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.Info("Report export disabled - no GOOGLE_SPREADSHEET_ID provided", "component", "backend")
		return nil, nil
	}

	client, err := gsheet.New(ctx, config.GoogleSpreadsheetID, config.GoogleReportsSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets report export",
		"component", "backend",
		"spreadsheet_id", config.GoogleSpreadsheetID,
		"sheet", config.GoogleReportsSheet)
	return client, nil
}

package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/assistenze/internal/export"
	"github.com/starford/assistenze/internal/mcpserver"
	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/recordservice"
)

// ExportRecords writes every stored record to the spreadsheet at path and
// returns the number of rows written.
func ExportRecords(ctx context.Context, path string, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	svc, err := openServices(ctx, app.config, app.logger())
	if err != nil {
		return 0, err
	}
	defer svc.stores.close()

	records, exists, err := svc.records.All(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("export: %s", recordservice.MsgNoRecords)
	}
	if err := export.WriteFile(records, app.config.Export.SheetName, path); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ServeMCP serves the record tools over stdio until the client disconnects.
// Logs go to the configured output, which must not be stdout.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()
	svc, err := openServices(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer svc.stores.close()

	logger.Info("MCP server starting on stdio", slog.String("version", app.version))
	return mcpserver.New(svc.records, app.version).ServeStdio()
}

// AddUser registers an account from the command line.
func AddUser(ctx context.Context, email, password string, opts ...Option) (models.User, error) {
	app, err := newApplication(opts)
	if err != nil {
		return models.User{}, err
	}
	svc, err := openServices(ctx, app.config, app.logger())
	if err != nil {
		return models.User{}, err
	}
	defer svc.stores.close()

	return svc.auth.Register(ctx, email, password)
}

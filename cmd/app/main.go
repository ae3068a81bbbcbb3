package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/assistenze/internal"
	pkgconfig "github.com/starford/assistenze/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func exportRecords(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.String("out")
	if out == "" {
		out = cfg.Export.Filename
	}

	n, err := internal.ExportRecords(ctx, out, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Printf("%d records written to %s\n", n, out)
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol.
	return internal.ServeMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr),
		internal.WithVersion(version),
	)
}

func addUser(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	u, err := internal.AddUser(ctx, cmd.String("email"), cmd.String("password"),
		internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	fmt.Printf("user %s added (role %s)\n", u.Email, u.Role)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "assistenze",
		Usage:   "Service assistance records backend with spreadsheet export",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Action: serve,
			},
			{
				Name:   "export",
				Usage:  "Write all records to an .xlsx file",
				Action: exportRecords,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output file (defaults to export.filename)",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the record tools over MCP stdio",
				Action: serveMCP,
			},
			{
				Name:  "user",
				Usage: "Manage accounts",
				Commands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Register a new account",
						Action: addUser,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "email", Required: true, Usage: "Account e-mail"},
							&cli.StringFlag{Name: "password", Required: true, Usage: "Account password", Sources: cli.EnvVars("ASSISTENZE_PASSWORD")},
						},
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pauldest/newsdigest/agents"
	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/internal/store"
	"github.com/pauldest/newsdigest/internal/telemetry"
)

func telemetryCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Inspect and maintain the AI call log",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate recorded calls",
		RunE: func(c *cobra.Command, args []string) error {
			app, err := loadApp(c, false)
			if err != nil {
				return err
			}
			defer app.close()
			agg, err := app.recorder.Aggregate(c.Context(), telemetry.Query{})
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(agg, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	var exportPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export full records to a JSONL file",
		RunE: func(c *cobra.Command, args []string) error {
			app, err := loadApp(c, false)
			if err != nil {
				return err
			}
			defer app.close()
			n, err := app.recorder.ExportJSONL(c.Context(), exportPath, nil, nil)
			if err != nil {
				return err
			}
			fmt.Printf("exported %d records to %s\n", n, exportPath)
			return nil
		},
	}
	export.Flags().StringVar(&exportPath, "out", "telemetry_export.jsonl", "output path")

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete records past the retention window",
		RunE: func(c *cobra.Command, args []string) error {
			app, err := loadApp(c, false)
			if err != nil {
				return err
			}
			defer app.close()
			n, err := app.recorder.Cleanup(c.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d index rows\n", n)
			return nil
		},
	}

	cmd.AddCommand(stats, export, cleanup)
	return cmd
}

func backfillCMD() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Extract entities for units that predate the knowledge graph",
		RunE: func(c *cobra.Command, args []string) error {
			app, err := loadApp(c, false)
			if err != nil {
				return err
			}
			defer app.close()
			backfill := agents.NewEntityBackfill(app.gateway, app.store, app.store, nil)
			return backfill.Run(c.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max units to process")
	return cmd
}

func migrateCMD() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(c *cobra.Command, args []string) error {
			cfgPath, _ := c.Flags().GetString("config")
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return store.Migrate(dir, cfg.Storage.DatabaseURL)
		},
	}
	cmd.Flags().StringVar(&dir, "source", "file://migrations", "migrations source URL")
	return cmd
}

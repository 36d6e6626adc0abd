package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "newsdigest",
		Short:         "RSS ingestion, multi-agent analysis and digest delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default ./config/config.yaml)")
	root.PersistentFlags().String("feeds", "config/feeds.yaml", "feeds file")

	root.AddCommand(runCMD(), digestCMD(), feedsCMD(), backfillCMD(), telemetryCMD(), migrateCMD())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

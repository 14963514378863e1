package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one full pipeline pass (crawl, dispatch, notify) and print the report.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFromContext(cmd.Context())

			report, err := a.Pipeline.Run(cmd.Context(), "cli")
			if err != nil {
				return fmt.Errorf("pipeline run: %w", err)
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}
}

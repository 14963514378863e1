package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <owner/name>",
		Short: "Fetch and evaluate a single repository by full name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())

			promoted, err := a.Crawler.IngestOne(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			if promoted {
				cmd.Printf("%s promoted to candidate\n", args[0])
			} else {
				cmd.Printf("%s evaluated, not promoted\n", args[0])
			}
			return nil
		},
	}
}

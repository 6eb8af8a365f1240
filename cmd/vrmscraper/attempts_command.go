package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
)

type attemptView struct {
	Source    string    `json:"source"`
	Item      string    `json:"source_item_id"`
	URL       string    `json:"source_url"`
	Status    string    `json:"status"`
	RawPath   string    `json:"raw_path"`
	Error     string    `json:"error,omitempty"`
	Updated   time.Time `json:"updated_at"`
	Retrieved time.Time `json:"downloaded_at"`
}

func newAttemptsCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List download attempts and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]catalog.AttemptStatus, 0, len(statusFlags))
			for _, value := range statusFlags {
				status, err := catalog.ParseStatus(value)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}

			_, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			attempts, err := store.ListAttempts(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if asJSON {
				views := make([]attemptView, 0, len(attempts))
				for _, a := range attempts {
					views = append(views, attemptView{
						Source:    a.Source,
						Item:      a.SourceItemID,
						URL:       a.SourceURL,
						Status:    string(a.Status),
						RawPath:   a.RawPath,
						Error:     a.Error,
						Updated:   a.UpdatedAt,
						Retrieved: a.DownloadedAt,
					})
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No attempts recorded")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(attempts))
			for _, a := range attempts {
				rows = append(rows, []string{
					a.Source,
					a.SourceItemID,
					string(a.Status),
					humanize.RelTime(a.UpdatedAt, now, "ago", "from now"),
					orDash(a.Error),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Source", "Item", "Status", "Updated", "Error"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Only list attempts in these statuses (downloaded, extracted, converted, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

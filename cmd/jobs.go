package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/server"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect crawl jobs",
	}
	cmd.AddCommand(newJobsListCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		websiteID string
		statuses  []string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			filter := store.JobFilter{WebsiteID: websiteID, Limit: limit}
			for _, raw := range statuses {
				status, err := crawler.ParseJobStatus(raw)
				if err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			st, err := server.OpenStorage(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.Repos.Jobs.ListJobs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			total, err := st.Repos.Jobs.CountJobs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("count jobs: %w", err)
			}
			renderJobs(cmd.OutOrStdout(), list, total)
			return nil
		},
	}
	cmd.Flags().StringVar(&websiteID, "website-id", "", "only jobs of this website")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only jobs in these statuses")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func renderJobs(w io.Writer, list []crawler.Job, total int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Website", "Status", "Found", "Processed", "Started", "Ended", "Error"})
	for _, job := range list {
		errMsg := ""
		if job.ErrorMessage != nil {
			errMsg = *job.ErrorMessage
		}
		t.AppendRow(table.Row{
			job.ID,
			job.WebsiteID,
			strings.ToUpper(string(job.Status)),
			job.ArticlesFound,
			job.ArticlesProcessed,
			formatTime(job.StartTime),
			formatTime(job.EndTime),
			errMsg,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", total})
	t.Render()
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/clock/system"
	"github.com/JakeFAU/newshub-crawler/internal/export"
	"github.com/JakeFAU/newshub-crawler/internal/server"
)

func newExportCmd() *cobra.Command {
	var (
		websiteID string
		since     string
		dest      string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored articles as NDJSON to the export backend",
		Long: `Streams articles, optionally limited to one website and to articles
created after --since, into one object named
<prefix>/<website>/<timestamp>.ndjson on the configured export backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			req := export.Request{WebsiteID: websiteID}
			if since != "" {
				ts, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				req.Since = &ts
			}
			prefix := e.cfg.Export.Prefix
			if dest != "" {
				prefix = dest
			}

			st, err := server.OpenStorage(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer st.Close()
			blobs, closeBlobs, err := server.OpenBlobStore(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeBlobs(); err != nil {
					e.logger.Warn("close export backend failed", zap.Error(err))
				}
			}()

			res, err := export.New(st.Repos.Articles, blobs, system.New(), prefix, e.logger).Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d articles to %s\n", res.Articles, res.URI)
			return nil
		},
	}
	cmd.Flags().StringVar(&websiteID, "website-id", "", "only articles of this website")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 time or a duration such as 24h")
	cmd.Flags().StringVar(&dest, "dest", "", "object prefix overriding export.prefix")
	return cmd
}

// parseSince accepts an RFC3339 timestamp or a lookback duration from now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("--since %q is neither RFC3339 nor a positive duration", raw)
	}
	return now.Add(-d), nil
}

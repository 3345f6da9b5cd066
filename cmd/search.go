package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/config"
	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/index/sqlite"
)

func newSearchCommand() *cobra.Command {
	var (
		month string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search one monthly partition of the SQLite index",
		Long: "Runs an FTS5 MATCH query over subject, body, addresses and attachment\n" +
			"names. Only the sqlite backend supports searching from the command line.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.cfg.Index.Backend != config.BackendSQLite {
				return fmt.Errorf("search needs the sqlite index backend, configured: %s", s.cfg.Index.Backend)
			}
			if month == "" {
				month = time.Now().UTC().Format("200601")
			}
			partition, err := index.ParsePartition(month)
			if err != nil {
				return err
			}

			backend, err := sqlite.Open(s.cfg.Index.Path, s.logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			hits, err := backend.Search(cmd.Context(), partition, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				pterm.Info.Println("No matches in", partition)
				return nil
			}

			data := pterm.TableData{{"Date", "Subject", "Message-Id", "Path"}}
			for _, h := range hits {
				data = append(data, []string{h.Timestamp.Format(time.DateTime), h.Subject, h.MessageID, h.Path})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
				return err
			}
			pterm.Info.Println(strconv.Itoa(len(hits)) + " matches in " + partition)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "partition", "", "Month to search as YYYYMM (default: current month)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/config"
	"github.com/dhcgn/email-archive/filter"
	"github.com/dhcgn/email-archive/mbox"
	"github.com/dhcgn/email-archive/stats"
)

// archivedDomainKey is the pseudo header counting archived domain matches.
const archivedDomainKey = "Archived-Domain"

func newMboxStatsCommand() *cobra.Command {
	var (
		reportDir string
		topN      int
	)
	cmd := &cobra.Command{
		Use:   "mbox-stats <mbox file>",
		Short: "Analyse an mbox file before importing it",
		Long: "Counts the most frequent senders, recipients and subjects and how many\n" +
			"messages involve an archived domain. Honours the import filters.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			cfg := s.cfg

			f, err := filter.New(filter.Options{
				IncludeHeader: cfg.Filter.IncludeHeader,
				IncludeBody:   cfg.Filter.IncludeBody,
				ExcludeHeader: cfg.Filter.ExcludeHeader,
				ExcludeBody:   cfg.Filter.ExcludeBody,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}
			domains := filter.NewDomains(cfg.Archive.Domains)

			headersToTrack := []string{"Delivered-To", "Subject", "From", "To"}
			if !domains.Empty() {
				headersToTrack = append(headersToTrack, archivedDomainKey)
			}
			counter := make(map[string]map[string]int)
			for _, h := range headersToTrack {
				counter[h] = make(map[string]int)
			}

			out := cmd.OutOrStdout()
			messageCount := 0
			skippedCount := 0
			printStats := func() {
				// clear screen, cursor to top-left
				fmt.Fprint(out, "\033[H\033[2J")
				totalMessages := messageCount + skippedCount
				var filterPercent float64
				if totalMessages > 0 {
					filterPercent = float64(skippedCount) / float64(totalMessages) * 100
				}
				fmt.Fprintf(out, "Processed %d messages (skipped %d by filters, %.2f%%)...\n\n", messageCount, skippedCount, filterPercent)

				for _, header := range headersToTrack {
					fmt.Fprintf(out, "Top %d %s:\n", topN, header)
					stats.PrintTop(out, counter[header], topN)
					fmt.Fprintln(out)
				}
			}

			err = mbox.Read(args[0], func(m *mbox.Message) error {
				if !f.AllowsParts(m.RawHeader, m.Body) {
					skippedCount++
					return nil
				}

				messageCount++
				for _, headerName := range headersToTrack {
					if value := m.Header.Get(headerName); value != "" {
						counter[headerName][value]++
					}
				}
				if domain, ok := domains.Match(m.Header.Header.Header); ok {
					counter[archivedDomainKey][domain]++
				}

				if messageCount%250 == 0 {
					printStats()
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("error reading mbox file: %w", err)
			}

			printStats()

			if err := saveCSVReports(counter, headersToTrack, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	config.RegisterImportFlags(cmd)
	return cmd
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(header)))
		if err := writeCSVReport(filePath, stats.Top(counter[header], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, counts []stats.Count) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, c := range counts {
		if err := writer.Write([]string{c.Key, strconv.Itoa(c.Count)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

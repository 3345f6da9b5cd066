package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/decoder"
	"github.com/dhcgn/email-archive/document"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive path>",
		Short: "Print the index document built from one archived message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.cfg.ValidateArchive(); err != nil {
				return err
			}
			root, err := archive.NewRoot(s.cfg.Archive.Root)
			if err != nil {
				return err
			}
			full, err := root.Resolve(args[0])
			if err != nil {
				return err
			}
			rel, err := root.Relative(full)
			if err != nil {
				return err
			}

			rc, err := archive.Open(full)
			if err != nil {
				return err
			}
			defer rc.Close()

			msg, err := decoder.Parse(rc)
			if err != nil {
				return fmt.Errorf("parse %s: %w", rel, err)
			}
			for _, w := range msg.Warnings {
				s.logger.Warn("MIME structure", "path", rel, "warning", w)
			}

			doc, err := document.NewBuilder(decoder.New(s.logger), s.logger).Build(rel, msg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
}

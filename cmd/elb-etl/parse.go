package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"elbetl/internal/app"
	"elbetl/internal/elblog"
	"elbetl/internal/etl"
)

func newParseCmd(f *rootFlags) *cobra.Command {
	var showRejected bool
	cmd := &cobra.Command{
		Use:   "parse FILE...",
		Short: "Parse local log files and print records as JSON lines",
		Long: `parse runs the line parser over local files (gzip when the name ends in
.gz, plain text otherwise) and writes one JSON record per line to stdout.
Nothing is written to the database. Counts go to stderr.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(f)
			if err != nil {
				return err
			}
			p, err := app.NewParser(cfg)
			if err != nil {
				return err
			}
			var rejected io.Writer
			if showRejected {
				rejected = cmd.ErrOrStderr()
			}
			stats, err := parseFiles(p, args, cmd.OutOrStdout(), rejected)
			if err != nil {
				return err
			}
			printStats(cmd.ErrOrStderr(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showRejected, "show-rejected", false, "print rejected lines with their reason to stderr")
	return cmd
}

// parseFiles encodes every record to out. rejected may be nil.
func parseFiles(p *elblog.Parser, paths []string, out, rejected io.Writer) (etl.Stats, error) {
	stats := etl.Stats{Rejected: map[elblog.Reason]int{}}
	enc := json.NewEncoder(out)

	for _, path := range paths {
		var encErr error
		fn := func(line string) {
			if encErr != nil {
				return
			}
			stats.Lines++
			res := p.Parse(line, path)
			if !res.OK() {
				stats.Rejected[res.Reason]++
				if rejected != nil {
					fmt.Fprintf(rejected, "%s\t%s\n", res.Reason, line)
				}
				return
			}
			stats.Parsed++
			encErr = enc.Encode(res.Record)
		}

		if err := readFile(path, fn); err != nil {
			return stats, err
		}
		if encErr != nil {
			return stats, fmt.Errorf("write record: %w", encErr)
		}
		stats.Objects++
	}
	return stats, nil
}

func readFile(path string, fn func(string)) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	if strings.HasSuffix(path, ".gz") {
		err = etl.ReadGzipLines(fh, fn)
	} else {
		err = etl.ReadLines(fh, fn)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func printStats(w io.Writer, s etl.Stats) {
	fmt.Fprintf(w, "files=%d lines=%d parsed=%d rejected=%d\n", s.Objects, s.Lines, s.Parsed, s.RejectedTotal())
	reasons := make([]string, 0, len(s.Rejected))
	for r := range s.Rejected {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  %s=%d\n", r, s.Rejected[elblog.Reason(r)])
	}
}

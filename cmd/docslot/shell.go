package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/docslot/internal/cli"
	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/models"
)

var shellCmd = &cobra.Command{
	Use:   "shell [directory]",
	Short: "Ingest interactively, pausing after each committed document",
	Long: `Ingest the corpus one document at a time. After each commit the shell waits for:

  continue (c, or an empty line)   process the next document
  query <text> (q <text>)          search what has been ingested so far
  end (e)                          stop; the next run resumes here

Stopping at any prompt leaves both stores consistent.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShellCmd,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShellCmd(cmd *cobra.Command, args []string) error {
	c, err := setup(openOptions{write: true, embedder: true, text: true, quiet: true})
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, stop := signalContext()
	defer stop()
	return runShell(ctx, c, corpusRoot(c.cfg, args), cmd.InOrStdin(), cmd.OutOrStdout())
}

// runShell drives ingestion from the lines read from in. End of input behaves like "end".
func runShell(ctx context.Context, c *components, root string, in io.Reader, out io.Writer) error {
	lines := bufio.NewScanner(in)
	res := c.resolver()

	pause := func(p ingest.Progress) bool {
		fmt.Fprintf(out, "committed %s as document %s at slot %d (%d remaining)\n",
			filepath.Base(p.SourcePath), p.DocumentID, p.Slot, p.Remaining)
		for {
			fmt.Fprint(out, "[c]ontinue, [q]uery <text>, [e]nd > ")
			if !lines.Scan() {
				fmt.Fprintln(out)
				return true
			}
			verb, arg, _ := strings.Cut(strings.TrimSpace(lines.Text()), " ")
			switch strings.ToLower(verb) {
			case "", "c", "continue":
				return false
			case "e", "end", "quit", "exit":
				return true
			case "q", "query":
				resp, err := res.Search(ctx, models.SearchRequest{Query: arg})
				if err != nil {
					fmt.Fprintf(out, "query failed: %v\n", err)
					continue
				}
				_ = cli.WriteSearchResults(out, resp, cli.OutputText)
			default:
				fmt.Fprintf(out, "unknown command %q\n", verb)
			}
		}
	}

	sum, err := c.controller(ingest.WithPause(pause)).Run(ctx, root)
	if sum != nil {
		_ = cli.WriteRunSummary(out, sum, cli.OutputText)
	}
	return err
}

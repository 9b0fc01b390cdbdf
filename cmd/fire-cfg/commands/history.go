package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fire-framework/firecfg/pkg/stores"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		passName string
		sha      string
		limit    int
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived evaluations",
		Long: `List the configurations archived by dump, print, validate, and watch,
newest first.`,
		Example: `  # Last 20 evaluations
  fire-cfg history

  # Every archived evaluation of one pass
  fire-cfg history --pass reco --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer func() { err = joinClose(err, a.close(cmd.Context())) }()
			if err := a.requireArchive(); err != nil {
				return err
			}

			records, err := a.archive.ListRecords(cmd.Context(), stores.ListFilter{
				PassName:     passName,
				ScriptSHA256: sha,
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return encode(out, "json", records)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tPASS\tRUN\tALLOWED\tSCRIPT")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n",
					r.ID, r.CreatedAt.Local().Format(time.DateTime), r.PassName, r.Run, r.Allowed, r.ScriptPath)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&passName, "pass", "", "only evaluations of this pass name")
	cmd.Flags().StringVar(&sha, "sha256", "", "only evaluations of the script with this hash")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records, 0 for all")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	return cmd
}

// archivedRecord shows a record with its dump decoded.
type archivedRecord struct {
	*stores.Record
	Dump json.RawMessage `json:"dump"`
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var (
		passName string
		dumpOnly bool
	)

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show an archived evaluation",
		Long: `Show an archived evaluation with its findings and parameter dump, by
record id or as the latest evaluation of a pass.`,
		Example: `  # Show one record
  fire-cfg show 7c9e6679-7425-40de-944b-e07fc1f90ae7

  # Re-emit the last dump of the reco pass
  fire-cfg show --pass reco --dump`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if (len(args) == 0) == (passName == "") {
				return fmt.Errorf("give either a record id or --pass")
			}

			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer func() { err = joinClose(err, a.close(cmd.Context())) }()
			if err := a.requireArchive(); err != nil {
				return err
			}

			var record *stores.Record
			if passName != "" {
				record, err = a.archive.LatestByPass(cmd.Context(), passName)
			} else {
				record, err = a.archive.GetRecord(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dumpOnly {
				var dump map[string]interface{}
				if err := json.Unmarshal([]byte(record.Dump), &dump); err != nil {
					return fmt.Errorf("archived dump is corrupt: %w", err)
				}
				return encode(out, a.settings.Format, dump)
			}
			return encode(out, "json", archivedRecord{Record: record, Dump: json.RawMessage(record.Dump)})
		},
	}

	cmd.Flags().StringVar(&passName, "pass", "", "show the latest evaluation of this pass name")
	cmd.Flags().BoolVar(&dumpOnly, "dump", false, "print only the parameter dump")

	return cmd
}

package main

import (
	"fmt"
	"os"
	"time"

	"chron-go/internal/app"
	"chron-go/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Ingest", "Scan").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "chron",
	Short: "Revisioned content identity tracker",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Ledger:          %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Snapshot store:  %s (%s)\n", cfg.Manifest.Type, cfg.Manifest.DataDir)
		fmt.Printf("Identity policy: %s\n", cfg.Identity.Policy)
		return nil
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest LABEL [PATH]",
	Short: "Record content observations for files under a path",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Ingest")
		if err != nil {
			return err
		}
		defer a.Close()

		target := "."
		if len(args) > 1 {
			target = args[1]
		}

		sum, err := a.Ingest(args[0], target)
		if err != nil {
			a.MarkFailed()
			return fmt.Errorf("ingest failed: %w", err)
		}

		fmt.Printf("Ingested %d file(s) (%s): %d new, %d changed, %d unchanged, %d errored\n",
			sum.Files, humanize.Bytes(uint64(sum.Bytes)),
			sum.New, sum.Changed, sum.Unchanged, sum.Errored)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan LABEL [PATH]",
	Short: "Record an immutable snapshot of a tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		target := "."
		if len(args) > 1 {
			target = args[1]
		}

		info, sum, err := a.Scan(args[0], target)
		if err != nil {
			a.MarkFailed()
			return fmt.Errorf("scan failed: %w", err)
		}

		fmt.Printf("Snapshot %s: %d file(s), %d dir(s), %d symlink(s), %d errored (%s)\n",
			info.ID, sum.Files, sum.Dirs, sum.Symlinks, sum.Errored,
			humanize.Bytes(uint64(sum.Bytes)))
		return nil
	},
}

// snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List recorded snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")

		a, err := newApp("Snapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.Snapshots(label)
		if err != nil {
			return err
		}

		if len(infos) == 0 {
			fmt.Println("No snapshots recorded.")
			return nil
		}

		for _, info := range infos {
			fmt.Printf("%s  %-12s  %s  %d entries  %d errored\n",
				info.ID, info.RootLabel,
				info.StartedAt.Format("2006-01-02 15:04:05"),
				info.Entries, info.Errored)
		}
		return nil
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff SNAPSHOT_A SNAPSHOT_B",
	Short: "Compare two snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Diff")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Diff(args[0], args[1])
		if err != nil {
			return err
		}

		for _, e := range res.Removed {
			fmt.Printf("-  %s\n", e.Path)
		}
		for _, e := range res.Added {
			fmt.Printf("+  %s\n", e.Path)
		}
		for _, e := range res.Changed {
			fmt.Printf("~  %s\n", e.Path)
		}
		for _, e := range res.ChangedKind {
			fmt.Printf("!  %s  (%s -> %s)\n", e.Path, e.A.Kind, e.B.Kind)
		}
		fmt.Printf("%d added, %d removed, %d changed, %d kind changed\n",
			len(res.Added), len(res.Removed), len(res.Changed), len(res.ChangedKind))
		return nil
	},
}

// locate command
var locateCmd = &cobra.Command{
	Use:   "locate HASH [SNAPSHOT...]",
	Short: "Find which snapshots contain content with a hash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Locate")
		if err != nil {
			return err
		}
		defer a.Close()

		occs, err := a.Locate(args[0], args[1:])
		if err != nil {
			return err
		}

		if len(occs) == 0 {
			fmt.Println("Content not found in any snapshot.")
			return nil
		}

		for _, o := range occs {
			fmt.Printf("%s  %s  %s\n", o.Snapshot.ID,
				o.Snapshot.StartedAt.Format("2006-01-02 15:04:05"), o.Entry.Path)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history LABEL RELPATH",
	Short: "View the revision history of a tracked source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		withDocs, _ := cmd.Flags().GetBool("documents")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		revs, err := a.History(args[0], args[1])
		if err != nil {
			return err
		}

		for i, r := range revs {
			current := ""
			if i == len(revs)-1 {
				current = "  [current]"
			}
			fmt.Printf("%s  %s  %d  mtime:%s%s\n",
				r.Identity.Hash[:12],
				r.IngestedAt.Format("2006-01-02 15:04:05"),
				r.Identity.Size,
				time.Unix(0, r.Identity.MTimeNS).UTC().Format("2006-01-02 15:04:05"),
				current,
			)
			if withDocs {
				doc, err := a.Document(r.ID)
				if err != nil {
					return err
				}
				if doc != nil {
					fmt.Printf("           %s: %s\n", doc.Status, doc.Title)
				}
			}
		}
		return nil
	},
}

// changes command
var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List revisions ingested since a point in time",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		t, err := parseSince(since)
		if err != nil {
			return err
		}

		a, err := newApp("Changes")
		if err != nil {
			return err
		}
		defer a.Close()

		revs, err := a.Changes(t)
		if err != nil {
			return err
		}

		for _, r := range revs {
			fmt.Printf("%s  %s  %s  %d\n",
				r.IngestedAt.Format("2006-01-02 15:04:05"),
				r.SourceID, r.Identity.Hash[:12], r.Identity.Size)
		}
		return nil
	},
}

// parseSince accepts either an RFC 3339 timestamp or a relative duration
// like "24h".
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse --since %q: use RFC 3339 or a duration like 24h", s)
	}
	return t, nil
}

// log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("Log")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.Log(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export SNAPSHOT",
	Short: "Export a snapshot as gzip-compressed JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		a, err := newApp("Export")
		if err != nil {
			return err
		}
		defer a.Close()

		if out == "" {
			out = fmt.Sprintf("snapshot-%s.jsonl.gz", args[0])
		}

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}

		if err := a.Export(args[0], f); err != nil {
			f.Close()
			os.Remove(out)
			return fmt.Errorf("export failed: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing output file: %w", err)
		}

		fmt.Printf("Exported snapshot %s to %s\n", args[0], out)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.Flags().StringP("label", "l", "", "Only snapshots with this root label")
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolP("documents", "d", false, "Show extracted document status per revision")
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().StringP("since", "s", "", "RFC 3339 timestamp or relative duration (e.g. 24h)")
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Output file (default snapshot-<id>.jsonl.gz)")
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
	cleanTmp      bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage archived runs",
	Long: `Manage archived runs, crash-recovery dumps and evaluation traces.
Archived runs live in a date tree under the archive root and can be resumed.`,
}

var listArchiveCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs, newest first",
	RunE:  runListArchive,
}

var cleanArchiveCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old archived runs or leftover dumps",
	Long: `Delete archived runs based on a retention policy: keep only the newest N
runs, delete runs older than N days, or both. --tmp removes the crash-recovery
dumps of runs that did not finish.`,
	RunE: runCleanArchive,
}

var traceArchiveCmd = &cobra.Command{
	Use:   "trace <run-id>",
	Short: "Print the evaluation trace of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(listArchiveCmd, cleanArchiveCmd, traceArchiveCmd)

	cleanArchiveCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanArchiveCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanArchiveCmd.Flags().BoolVar(&cleanTmp, "tmp", false, "Remove crash-recovery dumps")
	cleanArchiveCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListArchive(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	archive, err := openArchive()
	if err != nil {
		return err
	}

	infos, err := archive.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	dumps, err := archive.ListTmp()
	if err != nil {
		return fmt.Errorf("failed to list dumps: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No archived runs found.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tROUTINE\tGENERATOR\tSTATUS\tPOINTS\tARCHIVED")
		fmt.Fprintln(w, "----\t-------\t---------\t------\t------\t--------")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				info.Filename,
				info.Name,
				info.Generator,
				info.Status,
				info.Points,
				info.Timestamp.Format("2006-01-02 15:04:05"),
			)
		}
		w.Flush()
	}

	size, err := getDirSize(archive.BaseDir())
	sizeStr := "unknown"
	if err == nil {
		sizeStr = formatBytes(size)
	}
	fmt.Fprintf(out, "\nTotal runs: %d, pending dumps: %d, disk usage: %s\n", len(infos), len(dumps), sizeStr)
	return nil
}

func runCleanArchive(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if keepLast == 0 && olderThanDays == 0 && !cleanTmp {
		return fmt.Errorf("must specify --keep-last, --older-than or --tmp")
	}

	archive, err := openArchive()
	if err != nil {
		return err
	}

	if cleanTmp {
		n, err := archive.ClearTmp()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d dump file(s).\n", n)
		if keepLast == 0 && olderThanDays == 0 {
			return nil
		}
	}

	infos, err := archive.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %d points)\n", info.Filename, info.Status, info.Points)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	// The index is optional here: a run deleted from disk but not from
	// the index only shows up as a dangling entry.
	index, err := openIndex()
	if err != nil {
		slog.Warn("Routine database unavailable, index will not be updated", "error", err)
	} else {
		defer index.Close()
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := archive.DeleteRun(info.Filename); err != nil {
			slog.Error("Failed to delete run", "filename", info.Filename, "error", err)
			failed++
			continue
		}
		if index != nil {
			if err := index.RemoveRun(context.Background(), info.Filename); err != nil {
				slog.Warn("Failed to remove run from index", "filename", info.Filename, "error", err)
			}
		}
		slog.Info("Deleted run", "filename", info.Filename)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

func runTraceArchive(cmd *cobra.Command, args []string) error {
	reader, err := store.NewTraceReader(settings.ArchiveRoot, args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "%s [%d] %s\n", e.Timestamp.Format("15:04:05.000"), e.Index, formatRow(e.Row))
	}
	fmt.Fprintf(out, "%d evaluation(s)\n", len(entries))
	return nil
}

// selectRunsForDeletion applies the retention policy. infos may be in any
// order; the result holds each run at most once.
func selectRunsForDeletion(infos []store.RunInfo, keepLast int, olderThanDays int) []store.RunInfo {
	selected := make(map[string]bool)
	var toDelete []store.RunInfo
	add := func(info store.RunInfo) {
		if !selected[info.Filename] {
			selected[info.Filename] = true
			toDelete = append(toDelete, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				add(info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RunInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
		for _, info := range sorted[:len(sorted)-keepLast] {
			add(info)
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

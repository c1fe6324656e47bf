package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/store"
)

var resumeOpts runOptions

var resumeCmd = &cobra.Command{
	Use:   "resume <archived-run | routine.yaml>",
	Short: "Continue a routine from its recorded data",
	Long: `Starts a new run that keeps the data of an archived run (by archive file
name) or of a routine file. The generator is fed the existing data before it
proposes new points. Saving the run replaces the archived file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadResumable(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resuming %s with %d recorded points\n", doc.Name, doc.Data.Len())
		return executeRun(cmd, doc, resumeOpts, true)
	},
}

func init() {
	addRunFlags(resumeCmd, &resumeOpts)
	rootCmd.AddCommand(resumeCmd)
}

// loadResumable reads name as a file path if it exists, otherwise as the
// name of an archived run.
func loadResumable(name string) (routine.Document, error) {
	if _, err := os.Stat(name); err == nil {
		return routine.Load(name)
	}
	if filepath.Base(name) != name {
		return routine.Document{}, fmt.Errorf("no such file: %s", name)
	}
	archive, err := openArchive()
	if err != nil {
		return routine.Document{}, err
	}
	rec, err := archive.LoadRun(name)
	if errors.Is(err, store.ErrNotFound) {
		return routine.Document{}, fmt.Errorf("%s is neither a file nor an archived run", name)
	}
	if err != nil {
		return routine.Document{}, err
	}
	return rec.Routine, nil
}

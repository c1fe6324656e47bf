package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/routine"
)

var routineEnvFilter string

var routineCmd = &cobra.Command{
	Use:   "routine",
	Short: "Manage saved routines",
	Long: `Routines saved to the database can be started by id or name, from the
command line or through the HTTP API.`,
}

var routineSaveCmd = &cobra.Command{
	Use:   "save <routine.yaml>",
	Short: "Save a routine file to the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineSave,
}

var routineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved routines",
	RunE:  runRoutineList,
}

var routineShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Print a saved routine as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineShow,
}

var routineRmCmd = &cobra.Command{
	Use:   "rm <id|name>",
	Short: "Delete a saved routine and its run index",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineRm,
}

func init() {
	routineListCmd.Flags().StringVar(&routineEnvFilter, "env", "", "Only list routines for this environment")
	routineCmd.AddCommand(routineSaveCmd, routineListCmd, routineShowCmd, routineRmCmd)
	rootCmd.AddCommand(routineCmd)
}

func runRoutineSave(cmd *cobra.Command, args []string) error {
	doc, err := routine.Load(args[0])
	if err != nil {
		return err
	}
	// Composing catches unknown components before they reach the database.
	rt, err := routine.Compose(doc, registry())
	if err != nil {
		return fmt.Errorf("invalid routine: %w", err)
	}
	rt.Close()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreationTS.IsZero() {
		doc.CreationTS = rt.CreationTS
	}

	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	if err := index.SaveRoutine(context.Background(), &doc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved routine %s (%s)\n", doc.Name, doc.ID)
	return nil
}

func runRoutineList(cmd *cobra.Command, args []string) error {
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	routines, err := index.ListRoutines(context.Background(), routineEnvFilter)
	if err != nil {
		return fmt.Errorf("failed to list routines: %w", err)
	}
	if len(routines) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No routines found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENVIRONMENT\tGENERATOR\tSAVED\tID")
	for _, r := range routines {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Environment, r.Generator, r.SavedAt.Format("2006-01-02 15:04:05"), r.ID)
	}
	return w.Flush()
}

func runRoutineShow(cmd *cobra.Command, args []string) error {
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	doc, err := index.GetRoutine(context.Background(), args[0])
	if err != nil {
		return err
	}
	data, err := routine.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runRoutineRm(cmd *cobra.Command, args []string) error {
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	if err := index.DeleteRoutine(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted routine %s\n", args[0])
	return nil
}

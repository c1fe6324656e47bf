package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/runner"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query a running server for run status",
	Long: `Queries the server for run status information.
If no run-id is provided, lists all runs.
If run-id is provided, shows detailed status for that run.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "", "Server URL (default from config server_addr)")
	rootCmd.AddCommand(statusCmd)
}

func baseURL() string {
	if serverURL != "" {
		return strings.TrimSuffix(serverURL, "/")
	}
	return "http://" + settings.ServerAddr
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	if len(args) == 0 {
		return listRuns(cmd, client, baseURL()+"/api/v1/runs")
	}
	return getRunStatus(cmd, client, baseURL()+"/api/v1/runs/"+args[0], args[0])
}

func fetchJSON(client *http.Client, url string, v any) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listRuns(cmd *cobra.Command, client *http.Client, url string) error {
	var runs []runner.Status
	if _, err := fetchJSON(client, url, &runs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tROUTINE\tPHASE\tOUTCOME\tEVALUATIONS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Routine, r.Phase, r.Outcome, r.Evaluations)
	}
	return w.Flush()
}

func getRunStatus(cmd *cobra.Command, client *http.Client, url, runID string) error {
	var status runner.Status
	code, err := fetchJSON(client, url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run: %s\n", status.ID)
	fmt.Fprintf(out, "Routine: %s\n", status.Routine)
	fmt.Fprintf(out, "Phase: %s\n", status.Phase)
	if status.Outcome != runner.OutcomeNone {
		fmt.Fprintf(out, "Outcome: %s\n", status.Outcome)
	}
	fmt.Fprintf(out, "Evaluations: %d\n", status.Evaluations)

	if !status.StartedAt.IsZero() {
		end := status.EndedAt
		if end.IsZero() {
			end = time.Now()
		}
		fmt.Fprintf(out, "Elapsed: %s\n", end.Sub(status.StartedAt).Round(time.Millisecond))
	}
	if status.Archive != "" {
		fmt.Fprintf(out, "Archive: %s\n", status.Archive)
	}
	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}

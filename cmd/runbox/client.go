package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runbox/runbox/pkg/model"
)

var (
	runSuite  string
	runPolicy string
	runFollow bool
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Run test files (or a suite) on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			path string
			body io.Reader
		)
		switch {
		case runSuite != "":
			if len(args) > 0 {
				return fmt.Errorf("pass either files or --suite, not both")
			}
			path = fmt.Sprintf("/api/suites/%s/run", runSuite)
		case len(args) > 0:
			payload, err := json.Marshal(map[string]any{
				"files":  args,
				"policy": runPolicy,
			})
			if err != nil {
				return err
			}
			path = "/api/runs"
			body = bytes.NewReader(payload)
		default:
			return fmt.Errorf("no files given (or use --suite)")
		}

		resp, err := http.Post(serverURL+path, "application/json", body)
		if err != nil {
			return fmt.Errorf("contacting server: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return apiError(resp)
		}

		var created struct {
			ID     string `json:"id"`
			Policy string `json:"policy"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		fmt.Printf("Run %s scheduled (%s policy)\n", created.ID, created.Policy)

		if runFollow {
			return followEvents(created.ID)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(serverURL + "/api/runs")
		if err != nil {
			return fmt.Errorf("contacting server: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		var runs []model.Run
		if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%-10s %-9s %-9s %3d files  %s\n",
				r.ID, r.Policy, r.Status, len(r.Files),
				r.CreatedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(serverURL + "/api/runs/" + args[0])
		if err != nil {
			return fmt.Errorf("contacting server: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		var run model.Run
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		fmt.Printf("Run:     %s\n", run.ID)
		fmt.Printf("Status:  %s\n", run.Status)
		fmt.Printf("Policy:  %s\n", run.Policy)
		fmt.Printf("Files:   %s\n", strings.Join(run.Files, ", "))
		if run.Error != "" {
			fmt.Printf("Error:   %s\n", run.Error)
		}
		return nil
	},
}

// followEvents streams a run's SSE feed until the terminal event.
func followEvents(runID string) error {
	resp, err := http.Get(serverURL + "/api/runs/" + runID + "/events")
	if err != nil {
		return fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		fmt.Printf("[%s] %s %s\n", event.CreatedAt.Local().Format("15:04:05"), event.Type, event.Data)
		if event.Type == "done" &&
			(event.Data == string(model.StatusComplete) || event.Data == string(model.StatusError)) {
			return nil
		}
	}
	return scanner.Err()
}

func apiError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server: %s", apiErr.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

func init() {
	runCmd.Flags().StringVar(&runSuite, "suite", "", "run a named suite manifest instead of files")
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "sandbox policy: isolated or shared")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "stream run events until it finishes")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
}

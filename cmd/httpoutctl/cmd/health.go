package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/austindbirch/httpout/internal/health"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of a running worker",
	Long:  `Query the /healthz endpoint of a worker started with cmd/worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		st, code, err := fetchHealth(ctx, &http.Client{}, "http://"+serverAddr+"/healthz")
		if err != nil {
			return fmt.Errorf("HTTP health check failed: %w", err)
		}

		rows := [][2]string{
			{"Healthy", strconv.FormatBool(st.OK)},
			{"Message", st.Message},
			{"Queue", strconv.FormatBool(st.Queue)},
		}
		if st.Database != nil {
			rows = append(rows, [2]string{"Database", strconv.FormatBool(*st.Database)})
		}
		if err := printOutput(cmd.OutOrStdout(), st, rows); err != nil {
			return err
		}
		if !st.OK {
			return fmt.Errorf("worker is unhealthy (HTTP %d)", code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func fetchHealth(ctx context.Context, client *http.Client, target string) (health.Status, int, error) {
	var st health.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return st, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return st, 0, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, resp.StatusCode, fmt.Errorf("decode health status: %w", err)
	}
	return st, resp.StatusCode, nil
}

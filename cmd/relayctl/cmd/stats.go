package cmd

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var statsDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event and delivery aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodGet, "/v1/stats?days="+strconv.Itoa(statsDays), nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the bus API is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodGet, "/v1/ping", nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "trailing window in days")
	rootCmd.AddCommand(statsCmd, pingCmd)
}

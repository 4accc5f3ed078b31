package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var replayTargetService string

var replayCmd = &cobra.Command{
	Use:   "replay <event_id> [event_id...]",
	Short: "Re-enter recorded events into the delivery pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"event_ids": args}
		if replayTargetService != "" {
			body["target_service"] = replayTargetService
		}
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/v1/replay", body, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayTargetService, "target-service", "", "scope replay to one consumer's subscriptions")
	rootCmd.AddCommand(replayCmd)
}

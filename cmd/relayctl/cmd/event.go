package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	publishData          string
	publishCorrelationID string
	publishPriority      int
	batchFile            string
	historyType          string
	historySource        string
	historyStatus        string
	historyFrom          string
	historyTo            string
	historyLimit         int
	historyOffset        int
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish and inspect events",
}

var publishCmd = &cobra.Command{
	Use:   "publish <event_type> <source_service>",
	Short: "Publish a single event",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data json.RawMessage
		if err := json.Unmarshal([]byte(publishData), &data); err != nil {
			return fmt.Errorf("--data must be valid JSON: %w", err)
		}
		body := map[string]any{
			"event_type":     args[0],
			"source_service": args[1],
			"data":           data,
		}
		if publishCorrelationID != "" {
			body["correlation_id"] = publishCorrelationID
		}
		if publishPriority != 0 {
			body["priority"] = publishPriority
		}
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/v1/events", body, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var publishBatchCmd = &cobra.Command{
	Use:   "publish-batch",
	Short: "Publish a batch of events from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(batchFile)
		if err != nil {
			return err
		}
		var events []json.RawMessage
		if err := json.Unmarshal(raw, &events); err != nil {
			return fmt.Errorf("batch file must be a JSON array of events: %w", err)
		}
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/v1/events/batch", map[string]any{"events": events}, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query event history",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if historyType != "" {
			q.Set("event_type", historyType)
		}
		if historySource != "" {
			q.Set("source_service", historySource)
		}
		if historyStatus != "" {
			q.Set("status", historyStatus)
		}
		if historyFrom != "" {
			q.Set("date_from", historyFrom)
		}
		if historyTo != "" {
			q.Set("date_to", historyTo)
		}
		if historyLimit > 0 {
			q.Set("limit", strconv.Itoa(historyLimit))
		}
		if historyOffset > 0 {
			q.Set("offset", strconv.Itoa(historyOffset))
		}
		path := "/v1/events"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var out []map[string]any
		if err := makeRequest(http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var getEventCmd = &cobra.Command{
	Use:   "get <event_id>",
	Short: "Fetch one event with its delivery attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodGet, "/v1/events/"+args[0], nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishData, "data", "{}", "event payload as JSON")
	publishCmd.Flags().StringVar(&publishCorrelationID, "correlation-id", "", "correlation chain id")
	publishCmd.Flags().IntVar(&publishPriority, "priority", 0, "priority 1-10 (default 5)")

	publishBatchCmd.Flags().StringVar(&batchFile, "file", "", "path to JSON array of events")
	publishBatchCmd.MarkFlagRequired("file")

	historyCmd.Flags().StringVar(&historyType, "type", "", "filter by event type")
	historyCmd.Flags().StringVar(&historySource, "source", "", "filter by source service")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "RFC3339 lower bound")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "RFC3339 upper bound")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "page size")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "page offset")

	eventCmd.AddCommand(publishCmd, publishBatchCmd, historyCmd, getEventCmd)
	rootCmd.AddCommand(eventCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	subTypes    []string
	subFilter   string
	subService  string
	listService string
	listActive  bool
)

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage subscriptions",
}

var subscribeCmd = &cobra.Command{
	Use:   "create <callback_url>",
	Short: "Create a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"event_types":  subTypes,
			"callback_url": args[0],
			"service_name": subService,
		}
		if subFilter != "" {
			var criteria json.RawMessage
			if err := json.Unmarshal([]byte(subFilter), &criteria); err != nil {
				return fmt.Errorf("--filter must be valid JSON: %w", err)
			}
			body["filter_criteria"] = criteria
		}
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/v1/subscriptions", body, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var listSubscriptionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if listService != "" {
			q.Set("service_name", listService)
		}
		if listActive {
			q.Set("active", "true")
		}
		path := "/v1/subscriptions"
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

var deleteSubscriptionCmd = &cobra.Command{
	Use:   "delete <subscription_id>",
	Short: "Soft-delete a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := makeRequest(http.MethodDelete, "/v1/subscriptions/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

func init() {
	subscribeCmd.Flags().StringSliceVar(&subTypes, "types", nil, "event types or wildcard patterns (e.g. order.*)")
	subscribeCmd.Flags().StringVar(&subService, "service", "", "owning service name")
	subscribeCmd.Flags().StringVar(&subFilter, "filter", "", "filter criteria as a JSON object of gjson path -> value")
	subscribeCmd.MarkFlagRequired("types")
	subscribeCmd.MarkFlagRequired("service")

	listSubscriptionsCmd.Flags().StringVar(&listService, "service", "", "filter by owning service")
	listSubscriptionsCmd.Flags().BoolVar(&listActive, "active", false, "only active subscriptions")

	subscriptionCmd.AddCommand(subscribeCmd, listSubscriptionsCmd, deleteSubscriptionCmd)
	rootCmd.AddCommand(subscriptionCmd)
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"url_shortener/pkg/events"
)

func newPublishCmd(a *app) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:     "publish <routing-key> <json>",
		Short:   "Publish an event from the catalog",
		Example: `  ops publish user.registered '{"userId":"42","email":"a@b.com","name":"A"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			routingKey, body := args[0], args[1]

			exchange, ok := events.ExchangeFor(routingKey)
			if !ok {
				return fmt.Errorf("unknown routing key %q", routingKey)
			}
			if !json.Valid([]byte(body)) {
				return fmt.Errorf("payload is not valid JSON")
			}

			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			payload := json.RawMessage(body)
			if confirm {
				err = client.PublishConfirmed(cmd.Context(), exchange, routingKey, payload)
			} else {
				err = client.Publish(cmd.Context(), exchange, routingKey, payload)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", routingKey, exchange)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Wait for the broker confirm (needs RABBITMQ_PUBLISHER_CONFIRMS=true)")
	return cmd
}

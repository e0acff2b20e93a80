package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"url_shortener/pkg/events"
	"url_shortener/pkg/messaging"
)

func newTopologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the event catalog and consumer queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			fmt.Fprintln(w, "EXCHANGE\tROUTING KEY\tPRODUCER")
			for _, kind := range events.Catalog {
				fmt.Fprintf(w, "%s\t%s\t%s\n", kind.Exchange, kind.RoutingKey, kind.Producer)
			}
			fmt.Fprintln(w)

			fmt.Fprintln(w, "SERVICE\tROUTING KEY\tQUEUE\tDEAD LETTERS")
			services := make([]string, 0, len(events.Subscriptions))
			for service := range events.Subscriptions {
				services = append(services, service)
			}
			slices.Sort(services)
			for _, service := range services {
				for _, key := range events.Subscriptions[service] {
					queue := events.QueueName(service, key)
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", service, key, queue, messaging.DeadLetterQueue(queue))
				}
			}
			return w.Flush()
		},
	}
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDLQCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered messages",
	}
	cmd.AddCommand(newDLQInspectCmd(a), newDLQReplayCmd(a))
	return cmd
}

func newDLQInspectCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect <queue>",
		Short: "Show messages in <queue>_dlq without removing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			letters, err := client.InspectDeadLetters(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(letters) == 0 {
				fmt.Fprintf(out, "no dead letters in %s\n", args[0])
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MESSAGE ID\tEXCHANGE\tROUTING KEY\tREASON\tCOUNT\tBODY")
			for _, l := range letters {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", l.MessageID, l.Exchange, l.RoutingKey, l.Reason, l.Count, l.Body)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of messages to show")
	return cmd
}

func newDLQReplayCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay <queue>",
		Short: "Republish messages from <queue>_dlq to their original exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := client.ReplayDeadLetters(cmd.Context(), args[0], limit)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d message(s) from %s\n", n, args[0])
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of messages to replay")
	return cmd
}

package cli

import (
	"sort"

	"github.com/spf13/cobra"
)

func newDashboardCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show post counts, upcoming posts, and recent failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := opts.client.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			if done, err := opts.printJSON(cmd, d); done {
				return err
			}

			states := make([]string, 0, len(d.CountsByState))
			for s := range d.CountsByState {
				states = append(states, s)
			}
			sort.Strings(states)

			cmd.Println("Posts by state:")
			for _, s := range states {
				cmd.Printf("  %-10s %d\n", s, d.CountsByState[s])
			}
			cmd.Printf("\nLast 30 days: %d created, %d sent\n", d.CreatedLast30d, d.SentLast30d)
			cmd.Printf("Accounts: %d\n", len(d.Accounts))

			if len(d.Upcoming) > 0 {
				cmd.Println("\nUpcoming:")
				for _, p := range d.Upcoming {
					cmd.Printf("  %s  %s  %s\n", p.ScheduledTime, p.ID, p.MediaRef)
				}
			}
			if len(d.RecentFailures) > 0 {
				cmd.Println("\nRecent failures:")
				for _, p := range d.RecentFailures {
					msg := ""
					if p.LastError != nil {
						msg = p.LastError.Message
					}
					cmd.Printf("  %s  %s  %s\n", p.ID, p.MediaRef, msg)
				}
			}
			return nil
		},
	}
}

func newDispatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch tick now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := opts.client.Dispatch(cmd.Context())
			if err != nil {
				return err
			}
			if done, err := opts.printJSON(cmd, res); done {
				return err
			}
			if res.Skipped {
				cmd.Println("Tick skipped: another instance holds the dispatch lease")
				return nil
			}
			cmd.Printf("Refreshed %d credentials (%d errors), attempted %d posts (%d errors) in %dms\n",
				res.Refreshed, res.RefreshErrors, res.Attempted, res.PublishErrors, res.DurationMS)
			return nil
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if done, err := opts.printJSON(cmd, h); done {
				return err
			}
			cmd.Printf("Status:   %s\n", h.Status)
			cmd.Printf("Database: %s\n", h.Database)
			if h.LastTick != nil {
				cmd.Printf("Last tick: attempted %d, %d errors\n", h.LastTick.Attempted, h.LastTick.PublishErrors)
			}
			return nil
		},
	}
}

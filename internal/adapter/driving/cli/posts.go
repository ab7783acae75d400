package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/reelqueue/internal/adapter/driving/http"
	"github.com/ericfisherdev/reelqueue/internal/apiclient"
)

// postCall is a client method taking a post ID, e.g. (*apiclient.Client).GetPost.
type postCall func(*apiclient.Client, context.Context, string) (*httphandler.PostResponse, error)

func newPostsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Schedule and manage posts",
	}

	cmd.AddCommand(
		newPostsListCmd(opts),
		newPostsScheduleCmd(opts),
		newPostsUpdateCmd(opts),
		postActionCmd(opts, "get", "Show a post", (*apiclient.Client).GetPost),
		postActionCmd(opts, "cancel", "Cancel a scheduled post", (*apiclient.Client).CancelPost),
		postActionCmd(opts, "retry", "Requeue a failed post", (*apiclient.Client).RetryPost),
		&cobra.Command{
			Use:   "reschedule [post-id] [time]",
			Short: "Move a scheduled post to a new time (RFC 3339)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				at, err := parseTime(args[1])
				if err != nil {
					return err
				}
				post, err := opts.client.ReschedulePost(cmd.Context(), args[0], at)
				if err != nil {
					return err
				}
				return opts.showPost(cmd, post)
			},
		},
		&cobra.Command{
			Use:   "delete [post-id]",
			Short: "Delete a post",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := opts.client.DeletePost(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmd.Printf("Deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func postActionCmd(opts *options, use, short string, call postCall) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [post-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := call(opts.client, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.showPost(cmd, post)
		},
	}
}

func newPostsListCmd(opts *options) *cobra.Command {
	var (
		list     apiclient.ListPostsOptions
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts ordered by scheduled time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if from != "" {
				if list.From, err = parseTime(from); err != nil {
					return err
				}
			}
			if to != "" {
				if list.To, err = parseTime(to); err != nil {
					return err
				}
			}

			posts, err := opts.client.ListPosts(cmd.Context(), list)
			if err != nil {
				return err
			}
			if done, err := opts.printJSON(cmd, posts); done {
				return err
			}
			if len(posts) == 0 {
				cmd.Println("No posts found")
				return nil
			}
			for i := range posts {
				cmd.Printf("%-36s  %-10s  %s  %s\n", posts[i].ID, posts[i].State, posts[i].ScheduledTime, posts[i].MediaRef)
			}
			cmd.Printf("\nTotal: %d posts\n", len(posts))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&list.State, "state", "", "Filter by state (scheduled, publishing, sent, failed, cancelled)")
	f.StringVar(&list.AccountID, "account", "", "Filter by account ID")
	f.StringVar(&from, "from", "", "Earliest scheduled time (RFC 3339)")
	f.StringVar(&to, "to", "", "Latest scheduled time (RFC 3339)")
	f.IntVar(&list.Limit, "limit", 0, "Maximum number of posts")
	return cmd
}

func newPostsScheduleCmd(opts *options) *cobra.Command {
	var (
		req httphandler.SchedulePostRequest
		at  string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a video for publishing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if req.ScheduledTime, err = parseTime(at); err != nil {
				return err
			}
			post, err := opts.client.SchedulePost(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.showPost(cmd, post)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.AccountID, "account", "", "Account to publish as")
	f.StringVar(&req.MediaRef, "media", "", "Media file, relative to the server's media directory")
	f.StringVar(&req.Caption, "caption", "", "Post caption")
	f.StringVar(&at, "at", "", "Publish time (RFC 3339)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("media")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newPostsUpdateCmd(opts *options) *cobra.Command {
	var caption, mediaRef string

	cmd := &cobra.Command{
		Use:   "update [post-id]",
		Short: "Edit the caption or media of a scheduled post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req httphandler.UpdatePostRequest
			if cmd.Flags().Changed("caption") {
				req.Caption = &caption
			}
			if cmd.Flags().Changed("media") {
				req.MediaRef = &mediaRef
			}
			if req.Caption == nil && req.MediaRef == nil {
				return fmt.Errorf("nothing to update: pass --caption or --media")
			}

			post, err := opts.client.UpdatePost(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return opts.showPost(cmd, post)
		},
	}

	cmd.Flags().StringVar(&caption, "caption", "", "New caption")
	cmd.Flags().StringVar(&mediaRef, "media", "", "New media reference")
	return cmd
}

func (o *options) showPost(cmd *cobra.Command, p *httphandler.PostResponse) error {
	if done, err := o.printJSON(cmd, p); done {
		return err
	}

	cmd.Printf("Post: %s\n\n", p.ID)
	cmd.Printf("  Account:    %s\n", p.AccountID)
	cmd.Printf("  Media:      %s\n", p.MediaRef)
	cmd.Printf("  State:      %s\n", p.State)
	cmd.Printf("  Scheduled:  %s\n", p.ScheduledTime)
	cmd.Printf("  Attempts:   %d\n", p.AttemptCount)
	if p.SentAt != nil {
		cmd.Printf("  Sent:       %s (%s)\n", *p.SentAt, p.ExternalID)
	}
	if p.LastError != nil {
		cmd.Printf("  Last error: [%s] %s at %s\n", p.LastError.Kind, p.LastError.Message, p.LastError.At)
	}
	if p.Caption != "" {
		cmd.Printf("\n%s\n", p.Caption)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339 such as 2026-06-01T18:00:00Z", s)
	}
	return t, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "upline/internal/cli"
	"upline/internal/config"
	"upline/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	token := cfg.ServiceToken

	root := &cobra.Command{
		Use:          "upl",
		Short:        "Upline referral network operator CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&token, "token", token, "service token")

	root.AddCommand(
		newRegisterCmd(&apiBase, &token),
		newSyncCmd(&apiBase, &token),
		newUserCmd(&apiBase, &token),
		newCodeCmd(&apiBase, &token),
		newResolveCmd(&apiBase, &token),
		newChainCmd(&apiBase, &token),
		newTeamCmd(&apiBase, &token),
		newThresholdsCmd(&apiBase, &token),
		newRetryCmd(&apiBase, &token),
		newDeactivateCmd(&apiBase, &token),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase, token *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"), strings.TrimSpace(*token))
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newRegisterCmd(apiBase, token *string) *cobra.Command {
	var code string
	var offline bool
	cmd := &cobra.Command{
		Use:   "register <user-id>",
		Short: "Feed a registration event into the referral engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			if offline {
				if err := syncq.Push(syncq.Event{UserID: userID, ReferralCode: code}); err != nil {
					return err
				}
				printWarn("Queued offline. Run `upl sync` to replay.")
				return nil
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).Register(ctx, userID, code)
			if err != nil {
				return err
			}
			printSuccess("Registered %s", userID)
			printKV(out, "own_code", "share_link", "referrer_id", "code_rejected")
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "referral code of the upline referrer")
	cmd.Flags().BoolVar(&offline, "offline", false, "spool the event locally instead of calling the API")
	return cmd
}

func newSyncCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally spooled registration events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(events) == 0 {
				printNeutral("Queue is empty.")
				return nil
			}
			client := newClient(apiBase, token)
			var remaining []syncq.Event
			for _, ev := range events {
				ctx, cancel := cmdContext(cmd)
				_, err := client.Register(ctx, ev.UserID, ev.ReferralCode)
				cancel()
				if err != nil {
					printWarn("%s: %v", ev.UserID, err)
					remaining = append(remaining, ev)
					continue
				}
				printSuccess("Replayed %s", ev.UserID)
			}
			if remaining == nil {
				remaining = []syncq.Event{}
			}
			return syncq.Save(remaining)
		},
	}
}

func newUserCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "user <user-id>",
		Short: "Show a user's counters and role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).User(ctx, args[0])
			if err != nil {
				return err
			}
			printAccent("User %s", args[0])
			printKV(out, "own_code", "code_active", "parent_id", "direct_referrals", "team_size", "role_name", "role_assigned_at")
			return nil
		},
	}
}

func newCodeCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "code <user-id>",
		Short: "Show a user's referral code and share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).OwnCode(ctx, args[0])
			if err != nil {
				return err
			}
			printKV(out, "code", "share_link")
			return nil
		},
	}
}

func newResolveCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <code>",
		Short: "Resolve a referral code to its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).ResolveCode(ctx, args[0])
			if err != nil {
				return err
			}
			printKV(out, "code", "user_id")
			return nil
		},
	}
}

func newChainCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <user-id>",
		Short: "Print the upline chain from parent to root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).Chain(ctx, args[0])
			if err != nil {
				return err
			}
			renderChain(out)
			return nil
		},
	}
}

func newTeamCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "team <user-id>",
		Short: "List a user's direct referrals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).Team(ctx, args[0])
			if err != nil {
				return err
			}
			renderTeam(out)
			return nil
		},
	}
}

func newThresholdsCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "thresholds",
		Short: "Print the promotion threshold table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).Thresholds(ctx)
			if err != nil {
				return err
			}
			renderThresholds(out)
			return nil
		},
	}
}

func newRetryCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Trigger a retry sweep over incomplete referral events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, token).RetrySweep(ctx)
			if err != nil {
				return err
			}
			printSuccess("Sweep finished, completed=%v", out["completed"])
			return nil
		},
	}
}

func newDeactivateCmd(apiBase, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <code>",
		Short: "Permanently retire a referral code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(apiBase, token).DeactivateCode(ctx, args[0]); err != nil {
				return err
			}
			printWarn("Code %s retired. It will never be reissued.", strings.ToUpper(args[0]))
			return nil
		},
	}
}

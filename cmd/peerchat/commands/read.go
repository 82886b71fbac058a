package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"peerchat/internal/domain"
)

// read marks a conversation read in the local log only. Read receipts reach
// the peer from the /read command of a running node.
func readCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "read [peer]",
		Short: "Mark every message from peer as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := appCtx.OpenLog(cmd.Context())
			if err != nil {
				return err
			}
			defer log.Close()

			changed, err := log.MarkRead(cmd.Context(), domain.Username(user), domain.Username(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d message(s) from %s as read\n", len(changed), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "username", "", "your username")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

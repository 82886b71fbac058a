package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"peerchat/internal/domain"
)

func historyCmd() *cobra.Command {
	var (
		user   string
		limit  int
		unread bool
	)
	cmd := &cobra.Command{
		Use:   "history [peer]",
		Short: "Show the conversation with a peer, or --unread messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !unread && len(args) == 0 {
				return fmt.Errorf("peer required unless --unread is set")
			}
			log, err := appCtx.OpenLog(cmd.Context())
			if err != nil {
				return err
			}
			defer log.Close()

			var msgs []domain.StoredMessage
			if unread {
				msgs, err = log.Unread(cmd.Context(), domain.Username(user))
			} else {
				msgs, err = log.Conversation(cmd.Context(), domain.Username(user), domain.Username(args[0]), limit)
			}
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "username", "", "your username")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of messages (0 = all)")
	cmd.Flags().BoolVar(&unread, "unread", false, "list unread messages instead")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func printMessages(w io.Writer, msgs []domain.StoredMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "%s  %-10s -> %-10s [%s] %s\n",
			m.Timestamp.Format("2006-01-02 15:04:05"), m.Sender, m.Recipient, m.Status, m.Message)
	}
}

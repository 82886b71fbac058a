package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"peerchat/internal/crypto"
	"peerchat/internal/domain"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint [node-id]",
		Short: "Print node key fingerprints",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]domain.NodeID, 0, 1)
			if len(args) == 1 {
				ids = append(ids, domain.NodeID(args[0]))
			} else {
				all, err := appCtx.Keys.List()
				if err != nil {
					return err
				}
				ids = append(ids, all...)
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No node keys yet; run `peerchat run` first")
				return nil
			}
			for _, id := range ids {
				pub, err := appCtx.Keys.LoadPublicKey(id)
				if err != nil {
					return err
				}
				fp, err := crypto.Fingerprint(pub)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, fp)
			}
			return nil
		},
	}
	return cmd
}

package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ar-gateway/weave-gateway/internal/verify"
)

// verifyIDCmd is an operator diagnostic: fetch a transaction's bytes
// through the exact same assembler path ordinary reads use, compute its
// streaming Merkle data root, and report whether it matches an expected
// root — a manual escape hatch for the background Verifier (C9) when an
// operator wants to check one id on demand rather than waiting for it to
// surface via PullVerifiable.
func verifyIDCmd() *cobra.Command {
	var expectedHex string
	cmd := &cobra.Command{
		Use:   "verify-id <root-tx-id>",
		Short: "Recompute a transaction's data root and compare it to an expected value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			ctx := context.Background()
			rootTxID := args[0]

			_, size, err := a.chain.GetTxOffset(ctx, rootTxID)
			if err != nil {
				return fmt.Errorf("verify-id: offset lookup: %w", err)
			}
			stream, err := a.assembler.Open(ctx, rootTxID)
			if err != nil {
				return fmt.Errorf("verify-id: open stream: %w", err)
			}
			defer stream.Close()

			got, err := verify.StreamingDataRoot(stream, int64(size))
			if err != nil {
				return fmt.Errorf("verify-id: compute data root: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "computed data root: %s\n", hex.EncodeToString(got[:]))
			if expectedHex == "" {
				return nil
			}
			want, err := hex.DecodeString(expectedHex)
			if err != nil || len(want) != 32 {
				return fmt.Errorf("verify-id: --expected-root must be 64 hex characters")
			}
			if hex.EncodeToString(got[:]) == hex.EncodeToString(want) {
				fmt.Fprintln(cmd.OutOrStdout(), "MATCH")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "MISMATCH")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expectedHex, "expected-root", "", "expected data root as 64 hex characters; omit to just print the computed root")
	return cmd
}

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/ar-gateway/weave-gateway/internal/cdb"
)

// cdbInspectCmd is an operator diagnostic over the root-tx-id CDB64 index
// (C11): open a shard file (or a full set of them) and look up one id,
// printing its decoded record.
func cdbInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cdb-inspect <id-hex> <cdb-path> [more-cdb-paths...]",
		Short: "Look up an id in one or more CDB64 shard files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idHex, paths := args[0], args[1:]
			raw, err := hex.DecodeString(idHex)
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("cdb-inspect: id must be 64 hex characters")
			}
			var id [32]byte
			copy(id[:], raw)

			r, err := cdb.Open(paths...)
			if err != nil {
				return fmt.Errorf("cdb-inspect: open: %w", err)
			}
			defer r.Close()

			v, ok, err := r.Lookup(id)
			if err != nil {
				return fmt.Errorf("cdb-inspect: lookup: %w", err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "not found")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "root: %s\n", hex.EncodeToString(v.Root[:]))
			fmt.Fprintf(cmd.OutOrStdout(), "root_short (base58): %s\n", base58.Encode(v.Root[:]))
			if v.ItemOffset != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "item_offset: %d\n", *v.ItemOffset)
			}
			if v.DataOffset != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "data_offset: %d\n", *v.DataOffset)
				if a := currentApp(); a != nil && a.chunkDS != nil {
					if alias, ok, err := a.chunkDS.DebugCID(cmd.Context(), [32]byte{}, *v.DataOffset); err == nil && ok {
						fmt.Fprintf(cmd.OutOrStdout(), "data_cid (debug): %s\n", alias)
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "complete: %v\n", v.IsComplete())
			return nil
		},
	}
}

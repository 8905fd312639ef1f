package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <type>",
		Short: "Issue identifiers from the namespace configured for a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.openStores(ctx); err != nil {
				return err
			}

			count, _ := cmd.Flags().GetInt("count")
			persist, _ := cmd.Flags().GetBool("persist")
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := 0; i < count; i++ {
				g, err := a.ids.GenerateForType(ctx, args[0], persist)
				if err != nil {
					return err
				}
				if err := enc.Encode(g); err != nil {
					return fmt.Errorf("encoding output: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().Int("count", 1, "Number of identifiers to issue")
	cmd.Flags().Bool("persist", true, "Record issued identifiers so they are never issued again")
	return cmd
}

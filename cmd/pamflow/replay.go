package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/savegress/pamflow/internal/scenario"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <file|->",
		Short: "Shift a sequence and send it to a receiving system over MLLP",
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
			messages, err := readMessages(cmd, args[0])
			if err != nil {
				return err
			}
			if err := a.openStores(ctx); err != nil {
				return err
			}

			address, _ := cmd.Flags().GetString("to")
			if address == "" {
				address = cfg.MLLP.Address
			}
			if address == "" {
				return fmt.Errorf("no destination: pass --to or set mllp.address")
			}
			a.connectReplay(address)

			if noShift, _ := cmd.Flags().GetBool("no-shift"); !noShift {
				if messages, _, err = a.prepare(cmd, messages); err != nil {
					return err
				}
			}

			relax, _ := cmd.Flags().GetBool("relax")
			pause, _ := cmd.Flags().GetDuration("pause")
			report, playErr := a.player.Play(ctx, messages, scenario.PlayOptions{Relax: relax, Pause: pause})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("encoding output: %w", err)
			}
			if playErr != nil {
				return fmt.Errorf("replay stopped: %w", playErr)
			}
			return nil
		},
	}

	addShiftFlags(cmd)
	cmd.Flags().String("to", "", "Receiving system host:port (overrides mllp.address)")
	cmd.Flags().Bool("relax", false, "Send every message whatever the venue state")
	cmd.Flags().Bool("no-shift", false, "Send the messages with their recorded timestamps")
	cmd.Flags().Duration("pause", 0, "Pause between messages")
	return cmd
}

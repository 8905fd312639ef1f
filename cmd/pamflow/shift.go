package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/savegress/pamflow/internal/scenario"
)

// shiftConfigFromFlags reads the time shift flags shared by shift and replay.
func shiftConfigFromFlags(cmd *cobra.Command) scenario.ShiftConfig {
	anchor, _ := cmd.Flags().GetString("anchor")
	days, _ := cmd.Flags().GetInt("days")
	fixedStart, _ := cmd.Flags().GetString("fixed-start")
	jitterMin, _ := cmd.Flags().GetInt("jitter-min")
	jitterMax, _ := cmd.Flags().GetInt("jitter-max")
	jitterEvents, _ := cmd.Flags().GetStringSlice("jitter-events")

	return scenario.ShiftConfig{
		AnchorMode:        scenario.AnchorMode(anchor),
		AnchorDaysOffset:  days,
		FixedStart:        fixedStart,
		PreserveIntervals: true,
		JitterMinMinutes:  jitterMin,
		JitterMaxMinutes:  jitterMax,
		JitterEvents:      jitterEvents,
	}
}

func addShiftFlags(cmd *cobra.Command) {
	cmd.Flags().String("anchor", string(scenario.AnchorNow), "Anchor mode: now, admission_minus_days or fixed_start")
	cmd.Flags().Int("days", 0, "Days before now for the first admission (admission_minus_days)")
	cmd.Flags().String("fixed-start", "", "Start of the shifted sequence (fixed_start), ISO 8601 or HL7")
	cmd.Flags().Int("jitter-min", 0, "Minimum jitter in minutes")
	cmd.Flags().Int("jitter-max", 0, "Maximum jitter in minutes")
	cmd.Flags().StringSlice("jitter-events", nil, "Triggers that receive jitter (defaults to the scenario tables)")
	cmd.Flags().Bool("substitute", false, "Replace patient and visit identifiers with newly issued ones")
}

// prepare shifts messages and, when requested, substitutes identifiers.
func (a *app) prepare(cmd *cobra.Command, messages []string) ([]string, []scenario.Substitution, error) {
	ctx := cmd.Context()

	shifted, err := a.engine.Shift(ctx, messages, shiftConfigFromFlags(cmd))
	if err != nil {
		return nil, nil, err
	}

	substitute, _ := cmd.Flags().GetBool("substitute")
	if !substitute {
		return shifted, nil, nil
	}

	var ns scenario.Namespaces
	if ns.Patient, err = a.ids.Resolve(ctx, a.cfg.Identifiers.PatientType); err != nil {
		return nil, nil, err
	}
	if ns.Visit, err = a.ids.Resolve(ctx, a.cfg.Identifiers.VisitType); err != nil {
		return nil, nil, err
	}
	return a.engine.SubstituteIdentifiers(ctx, shifted, ns)
}

func newShiftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift <file|->",
		Short: "Move the timestamps of a message sequence to a new anchor",
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

			messages, err := readMessages(cmd, args[0])
			if err != nil {
				return err
			}
			if substitute, _ := cmd.Flags().GetBool("substitute"); substitute {
				if err := a.openStores(cmd.Context()); err != nil {
					return err
				}
			}

			out, subs, err := a.prepare(cmd, messages)
			if err != nil {
				return err
			}

			if err := writeMessages(cmd.OutOrStdout(), out); err != nil {
				return fmt.Errorf("writing messages: %w", err)
			}
			if len(subs) > 0 {
				enc := json.NewEncoder(cmd.ErrOrStderr())
				for _, s := range subs {
					if err := enc.Encode(s); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	addShiftFlags(cmd)
	return cmd
}

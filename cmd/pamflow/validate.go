package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/validation"
)

// validateOutput is the JSON output of one validated message.
type validateOutput struct {
	Index     int               `json:"index"`
	ControlID string            `json:"control_id"`
	Validator string            `json:"validator"`
	Result    validation.Result `json:"result"`
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Validate HL7 messages against the PAM or MFN location rules",
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

			mfn, _ := cmd.Flags().GetBool("mfn")
			segment, _ := cmd.Flags().GetBool("segment")

			var v validation.Validator = a.pam
			if mfn {
				v = a.mfn
			}
			mode := validation.ModeMessage
			if segment {
				mode = validation.ModeSegment
			}

			invalid := 0
			out := make([]validateOutput, 0, len(messages))
			for i, raw := range messages {
				result := v.Validate(raw, mode)
				a.metrics.ValidationResult(v.Name(), result.Valid, len(result.Errors), len(result.Warnings))
				if !result.Valid {
					invalid++
				}
				out = append(out, validateOutput{
					Index:     i,
					ControlID: hl7v2.ParseHeader(raw).ControlID,
					Validator: v.Name(),
					Result:    result,
				})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encoding output: %w", err)
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d messages are invalid", invalid, len(messages))
			}
			return nil
		},
	}

	cmd.Flags().Bool("mfn", false, "Validate MFN location master files instead of ADT messages")
	cmd.Flags().Bool("segment", false, "Validate segments on their own, without message-level requirements")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file|->",
		Short: "Summarize a message sequence: triggers, venues, timestamps, movement natures",
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

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(a.engine.Inspect(messages)); err != nil {
				return fmt.Errorf("encoding output: %w", err)
			}
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
	"github.com/smallbiznis/upimatch/internal/reconcile/extract"
)

var extractCmd = &cobra.Command{
	Use:   "extract [message]",
	Short: "Print the amount and reference found in an SMS",
	Long:  "Runs the matchers used by the SMS webhook. Reads the message from stdin when no argument is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := ""
		if len(args) == 1 {
			message = args[0]
		} else {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}
			message = string(raw)
		}
		if strings.TrimSpace(message) == "" {
			return domain.ErrMissingMessage
		}
		return printSignals(cmd.OutOrStdout(), extract.Extract(message))
	},
}

type signalsOutput struct {
	AmountFound bool    `json:"amount_found"`
	Amount      string  `json:"amount,omitempty"`
	Reference   *string `json:"reference"`
}

func printSignals(w io.Writer, signals domain.Signals) error {
	out := signalsOutput{
		AmountFound: signals.AmountFound,
		Reference:   signals.Reference,
	}
	if signals.AmountFound {
		out.Amount = domain.MinorToDecimal(signals.AmountMinor).StringFixed(2)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

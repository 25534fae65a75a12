package cmd

import (
	"fmt"

	"github.com/roffe/elmuds"
	"github.com/spf13/cobra"
)

var exchangeCmd = &cobra.Command{
	Use:   "exchange <target> <hex>",
	Short: "send one request and print the reply",
	Example: `  udstool exchange 7E0 "22 F1 90"
  udstool -a Virtual exchange 0x7E0 1003`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		capacity, _ := cmd.Flags().GetInt("capacity")
		attempts, _ := cmd.Flags().GetUint("attempts")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var o elmuds.Outcome
		if attempts > 1 {
			o = s.client.ExchangeRetry(cmd.Context(), target, args[1], capacity, attempts)
		} else {
			o = s.client.Exchange(target, args[1], capacity)
		}
		s.log.Debug().Stringer("strategy", o.Strategy).Dur("took", o.Elapsed).Bool("inline", o.Inline).Msg(o.Kind.String())
		if o.Kind == elmuds.KindPositive || o.Kind == elmuds.KindNegative {
			fmt.Println(o.ColorString())
		}
		if o.Truncated {
			s.log.Warn().Int("capacity", capacity).Msg("reply truncated")
		}
		return o.Err()
	},
}

func init() {
	exchangeCmd.Flags().IntP("capacity", "c", defaultCapacity, "max reply bytes")
	exchangeCmd.Flags().Uint("attempts", 1, "attempts on timeout")
	rootCmd.AddCommand(exchangeCmd)
}

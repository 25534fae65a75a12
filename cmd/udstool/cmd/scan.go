package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/elmuds"
	"github.com/roffe/elmuds/pkg/bar"
	"github.com/roffe/elmuds/pkg/uds"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:     "scan <target> <fromDID> <toDID>",
	Short:   "read a range of data identifiers",
	Example: `  udstool scan 7E0 F180 F19F`,
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		target, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		from, err := parseHex(args[1])
		if err != nil {
			return fmt.Errorf("invalid DID %q: %w", args[1], err)
		}
		to, err := parseHex(args[2])
		if err != nil {
			return fmt.Errorf("invalid DID %q: %w", args[2], err)
		}
		if from > 0xFFFF || to > 0xFFFF || to < from {
			return fmt.Errorf("invalid DID range %04X-%04X", from, to)
		}

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		type result struct {
			did  uint16
			data []byte
		}
		var found []result
		timeouts := 0
		pb := bar.New(int(to-from+1), "scanning")
		for did := from; did <= to; did++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			o := s.client.Exchange(target, fmt.Sprintf("22%04X", did), defaultScanLimit)
			switch o.Kind {
			case elmuds.KindPositive:
				found = append(found, result{uint16(did), o.Data()})
			case elmuds.KindNegative:
				s.log.Debug().Str("did", fmt.Sprintf("%04X", did)).Stringer("nrc", o.NRC).Msg("rejected")
			case elmuds.KindTimeout:
				timeouts++
			default:
				pb.Finish()
				return o.Err()
			}
			pb.Add(1)
		}
		pb.Finish()

		bold := color.New(color.Bold).SprintfFunc()
		for _, r := range found {
			fmt.Printf("%s %-36s %s\n", bold("%04X", r.did), uds.DIDName(r.did), uds.FormatDID(r.did, r.data))
		}
		s.log.Info().Int("found", len(found)).Int("timeouts", timeouts).Msg("scan done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

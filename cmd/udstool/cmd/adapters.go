package cmd

import (
	"fmt"

	"github.com/roffe/elmuds"
	"github.com/roffe/elmuds/adapter"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range elmuds.ListAdapters() {
			fmt.Println(a.String())
		}
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "list serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := adapter.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd, portsCmd)
}

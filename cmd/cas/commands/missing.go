package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var missingCmd = &cobra.Command{
	Use:   "missing <hash/size>...",
	Short: "List which digests the server does not have",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digests, err := parseDigests(args)
		if err != nil {
			return err
		}
		cli, err := GetRemoteClient()
		if err != nil {
			return err
		}

		missing, err := cli.FindMissing(cmd.Context(), digests)
		if err != nil {
			return err
		}
		for _, d := range missing {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(missingCmd)
}

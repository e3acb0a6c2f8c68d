package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show what the server supports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := GetRemoteClient()
		if err != nil {
			return err
		}
		caps, err := cli.SyncLimits(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		cache := caps.GetCacheCapabilities()
		fmt.Fprintf(out, "Digest functions: %v\n", cache.GetDigestFunctions())
		fmt.Fprintf(out, "Max batch size:   %d bytes\n", cache.GetMaxBatchTotalSizeBytes())
		fmt.Fprintf(out, "API versions:     %d.%d - %d.%d\n",
			caps.GetLowApiVersion().GetMajor(), caps.GetLowApiVersion().GetMinor(),
			caps.GetHighApiVersion().GetMajor(), caps.GetHighApiVersion().GetMinor())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}

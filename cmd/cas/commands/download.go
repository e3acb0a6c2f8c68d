package commands

import (
	"fmt"
	"os"

	"casvault/pkg/types"

	"github.com/spf13/cobra"
)

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download <hash/size>",
	Short: "Download a single blob to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := types.ParseDigest(args[0])
		if err != nil {
			return err
		}
		cli, err := GetRemoteClient()
		if err != nil {
			return err
		}

		blobs, err := cli.ReadBlobs(cmd.Context(), []types.Digest{d})
		if err != nil {
			return err
		}
		data := blobs[d]

		if downloadOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(downloadOutput, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✅ Wrote %d bytes to %s\n", len(data), downloadOutput)
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(downloadCmd)
}

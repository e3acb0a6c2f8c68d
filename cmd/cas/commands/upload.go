package commands

import (
	"fmt"
	"os"

	"casvault/pkg/core"
	"casvault/pkg/types"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files as blobs and print their digests",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := GetRemoteClient()
		if err != nil {
			return err
		}

		blobs := make(map[types.Digest][]byte, len(args))
		digests := make([]types.Digest, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			d := core.ComputeDigest(data)
			blobs[d] = data
			digests = append(digests, d)
		}

		n, err := cli.UploadBlobs(cmd.Context(), blobs)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, d := range digests {
			fmt.Fprintf(out, "%s\t%s\n", d, args[i])
		}
		fmt.Fprintf(out, "✅ %d uploaded, %d already present\n", n, len(blobs)-n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

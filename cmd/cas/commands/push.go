package commands

import (
	"fmt"

	"casvault/pkg/ignore"
	"casvault/pkg/treebuilder"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <dir>",
	Short: "Upload a directory tree and print its root digest",
	Long:  `Builds the directory's Merkle tree locally (honouring .casignore), asks the server which blobs are missing and uploads only those.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		matcher, err := ignore.NewMatcher(dir)
		if err != nil {
			return fmt.Errorf("failed to load ignore rules: %w", err)
		}

		// 1. 本地构建
		res, err := treebuilder.NewBuilder(matcher).Build(cmd.Context(), dir)
		if err != nil {
			return err
		}
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "📦 %d files, %d directories, %d bytes\n", res.Files, res.Directories, res.TotalBytes)

		// 2. 只上传缺失的部分
		cli, err := GetRemoteClient()
		if err != nil {
			return err
		}
		n, err := cli.UploadBlobs(cmd.Context(), res.Blobs)
		if err != nil {
			return err
		}

		fmt.Fprintf(errOut, "✅ %d blobs uploaded, %d already present\n", n, len(res.Blobs)-n)
		fmt.Fprintln(cmd.OutOrStdout(), res.Root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

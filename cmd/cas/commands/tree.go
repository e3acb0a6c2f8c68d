package commands

import (
	"fmt"
	"text/tabwriter"

	"casvault/pkg/core"
	"casvault/pkg/types"

	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree <root hash/size>",
	Short: "List every directory reachable from a root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := types.ParseDigest(args[0])
		if err != nil {
			return err
		}
		cli, err := GetRemoteClient()
		if err != nil {
			return err
		}

		dirs, err := cli.GetTree(cmd.Context(), root)
		if err != nil {
			return err
		}

		// 对齐输出，类似 git ls-tree
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		for _, dir := range dirs {
			d, _, err := core.EncodeDirectory(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s/\n", d.Short())
			for _, sub := range dir.GetDirectories() {
				fmt.Fprintf(tw, "\tdir\t%s\t%s\t-\n", types.FromProto(sub.GetDigest()).Short(), sub.GetName())
			}
			for _, f := range dir.GetFiles() {
				kind := "file"
				if f.GetIsExecutable() {
					kind = "exec"
				}
				fd := types.FromProto(f.GetDigest())
				fmt.Fprintf(tw, "\t%s\t%s\t%s\t%d\n", kind, fd.Short(), f.GetName(), fd.SizeBytes)
			}
			for _, l := range dir.GetSymlinks() {
				fmt.Fprintf(tw, "\tlink\t-\t%s -> %s\t-\n", l.GetName(), l.GetTarget())
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d directories\n", len(dirs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
}

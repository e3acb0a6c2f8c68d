package commands

import (
	"fmt"
	"log/slog"

	"casvault/pkg/exporter"
	"casvault/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var checkoutVerbose bool

var checkoutCmd = &cobra.Command{
	Use:   "checkout <root hash/size> <dir>",
	Short: "Restore a directory tree from the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := types.ParseDigest(args[0])
		if err != nil {
			return err
		}
		cli, err := GetRemoteClient()
		if err != nil {
			return err
		}

		var onRestore exporter.RestoreCallback
		if checkoutVerbose {
			out := cmd.ErrOrStderr()
			onRestore = func(path string, d types.Digest) {
				fmt.Fprintf(out, "  %s  %s\n", d.Short(), path)
			}
		}

		exp := exporter.NewExporter(cli, viper.GetInt("client.concurrency"), slog.Default())
		stats, err := exp.Checkout(cmd.Context(), root, args[1], onRestore)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "✅ Restored %d files in %d directories (%d bytes) to %s\n",
			stats.Files, stats.Directories, stats.Bytes, args[1])
		return nil
	},
}

func init() {
	checkoutCmd.Flags().BoolVarP(&checkoutVerbose, "verbose", "v", false, "print every restored file")
	rootCmd.AddCommand(checkoutCmd)
}

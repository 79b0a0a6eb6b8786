package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	var outputPath string
	var start bool

	cmd := &cobra.Command{
		Use:   "add [URL] [--output OUTPUT_PATH] [--start]",
		Short: "Queue an HTTP/HTTPS download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputPath == "" {
				outputPath = "."
			}
			id, err := current.mgr.Create(args[0], outputPath)
			if err != nil {
				return err
			}
			fmt.Println(id)
			if !start {
				return nil
			}
			return runForeground(cmd.Context(), []string{id}, "")
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file or directory (keeper infers the file name for a directory)")
	cmd.Flags().BoolVar(&start, "start", false, "Start the download immediately and follow it")
	return cmd
}

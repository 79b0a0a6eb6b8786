package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanq16/keeper/internal/output"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all downloads",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(output.RenderTable(current.mgr.List()))
		},
	}
}

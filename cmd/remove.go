package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tanq16/keeper/internal/output"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove [ID...]",
		Aliases: []string{"rm"},
		Short:   "Forget downloads; completed files are kept on disk",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveIDs(args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := current.mgr.Remove(id); err != nil {
					return err
				}
				output.PrintSuccess("Removed " + output.ShortID(id))
			}
			return nil
		},
	}
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tanq16/keeper/internal/output"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [ID...]",
		Short: "Cancel downloads and delete their partial data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveIDs(args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := current.mgr.Cancel(id); err != nil {
					return err
				}
				output.PrintWarning("Cancelled " + output.ShortID(id))
			}
			return nil
		},
	}
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/m1k1o/localwatch"
)

func init() {
	addCommand(&cobra.Command{
		Use:   "detect <path>...",
		Short: "detect intros of videos",
		Long:  `detect the intro window of videos relative to the media root and print the verdicts`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  localwatch.Service.DetectCommand,
	})
}

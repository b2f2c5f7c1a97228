package cmd

import (
	"github.com/spf13/cobra"

	"github.com/m1k1o/localwatch"
)

func init() {
	addCommand(&cobra.Command{
		Use:   "convert <path>...",
		Short: "derive seekable copies of videos",
		Long:  `derive seekable mp4 copies of videos relative to the media root, printing progress`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  localwatch.Service.ConvertCommand,
	})
}

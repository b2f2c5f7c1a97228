package cmd

import (
	"github.com/spf13/cobra"

	"github.com/m1k1o/localwatch"
)

func init() {
	addCommand(&cobra.Command{
		Use:   "serve",
		Short: "serve the media library",
		Long:  `serve the media library over http, deriving seekable copies on demand and in the background`,
		Run:   localwatch.Service.ServeCommand,
	}, localwatch.Service.ServerConfig, localwatch.Service.PreconvertConfig)
}

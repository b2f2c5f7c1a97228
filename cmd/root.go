package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/localwatch"
	"github.com/m1k1o/localwatch/internal/config"
)

// Default configuration path
const defCfgPath = "/etc/localwatch/"

// ENV prefix for configuration
const envPrefix = "LOCALWATCH"

var rootCmd = &cobra.Command{
	Use:     "localwatch",
	Short:   "Local media server CLI.",
	Long:    `Serves a local video library to browsers, deriving seekable copies on demand.`,
	Version: "1.0.0",
}

var onConfigLoad []func()

func init() {
	var cfgFile string
	var logConfig logConfig

	// media and intro settings are shared by every subcommand
	shared := []config.Config{
		localwatch.Service.MediaConfig,
		localwatch.Service.IntroConfig,
	}

	cobra.OnInitialize(func() {
		initConfiguration(cfgFile, defCfgPath, envPrefix)
		logConfig.Set()
		initLogging(logConfig)

		// display used configuration file
		file := viper.ConfigFileUsed()
		if file != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				log.Info().Str("config", e.Name).Msg("config file reloaded")

				// call load config
				for _, loadConfig := range onConfigLoad {
					loadConfig()
				}
			})

			viper.WatchConfig()

			log.Info().Str("config", file).Msg("preflight complete with config file")
		} else {
			log.Warn().Msg("preflight complete without config file")
		}

		for _, cfg := range shared {
			cfg.Set()
		}

		// call load config
		for _, loadConfig := range onConfigLoad {
			loadConfig()
		}

		localwatch.Service.Preflight()
	})

	// config file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	// log configuration
	_ = logConfig.Init(rootCmd)

	for _, cfg := range shared {
		if err := cfg.Init(rootCmd); err != nil {
			log.Panic().Err(err).Msg("unable to initialize configuration")
		}
	}
}

func Execute() error {
	return rootCmd.Execute()
}

// addCommand registers a subcommand together with its own configs.
func addCommand(command *cobra.Command, configs ...config.Config) {
	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Str("command", command.Name()).Msg("unable to initialize command")
		}
	}

	onConfigLoad = append(onConfigLoad, func() {
		for _, cfg := range configs {
			cfg.Set()
		}
	})

	rootCmd.AddCommand(command)
}

//
// Configuration initialization
//

func initConfiguration(cfgFile string, defCfgPath string, envPrefix string) {
	// use configuration file if provided
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// configuration file name
		viper.SetConfigName("config")

		// search for configuration file
		if runtime.GOOS == "linux" && defCfgPath != "" {
			viper.AddConfigPath(defCfgPath)
		}

		// search for configuration file in ./
		viper.AddConfigPath(".")
	}

	if envPrefix != "" {
		// env prefix is uppercase progname
		viper.SetEnvPrefix(envPrefix)

		// replace . and - with _
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

		// read in environment variables that match
		viper.AutomaticEnv()
	}

	// read config file
	err := viper.ReadInConfig()
	if err != nil && cfgFile != "" {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
}

package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Preconvert struct {
	Enabled    bool
	Workers    int
	Schedule   string
	StartDelay time.Duration
	MaxLoad    float64
}

func (Preconvert) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("preconvert.enabled", true, "derive missing artifacts in the background")
	if err := viper.BindPFlag("preconvert.enabled", cmd.PersistentFlags().Lookup("preconvert.enabled")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("preconvert.workers", 1, "number of concurrent background derivations")
	if err := viper.BindPFlag("preconvert.workers", cmd.PersistentFlags().Lookup("preconvert.workers")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("preconvert.schedule", "@every 15m", "cron schedule of background scans")
	if err := viper.BindPFlag("preconvert.schedule", cmd.PersistentFlags().Lookup("preconvert.schedule")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("preconvert.start-delay", 30*time.Second, "delay before the first background scan")
	if err := viper.BindPFlag("preconvert.start-delay", cmd.PersistentFlags().Lookup("preconvert.start-delay")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("preconvert.max-load", 0, "skip scans while the one minute load average is above this, 0 disables")
	if err := viper.BindPFlag("preconvert.max-load", cmd.PersistentFlags().Lookup("preconvert.max-load")); err != nil {
		return err
	}

	return nil
}

func (p *Preconvert) Set() {
	p.Enabled = viper.GetBool("preconvert.enabled")
	p.Workers = viper.GetInt("preconvert.workers")
	p.Schedule = viper.GetString("preconvert.schedule")
	p.StartDelay = viper.GetDuration("preconvert.start-delay")
	p.MaxLoad = viper.GetFloat64("preconvert.max-load")
}

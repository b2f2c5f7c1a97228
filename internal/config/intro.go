package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Intro struct {
	Enabled      bool
	SampleRate   int
	Frame        time.Duration
	Smooth       int
	MinScore     float64
	MaxScan      time.Duration
	MaxReference time.Duration
}

func (Intro) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("intro.enabled", true, "detect intros using reference audio clips")
	if err := viper.BindPFlag("intro.enabled", cmd.PersistentFlags().Lookup("intro.enabled")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("intro.sample-rate", 8000, "sample rate of decoded audio")
	if err := viper.BindPFlag("intro.sample-rate", cmd.PersistentFlags().Lookup("intro.sample-rate")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("intro.frame", 250*time.Millisecond, "duration of one energy frame")
	if err := viper.BindPFlag("intro.frame", cmd.PersistentFlags().Lookup("intro.frame")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("intro.smooth", 3, "moving average window in frames")
	if err := viper.BindPFlag("intro.smooth", cmd.PersistentFlags().Lookup("intro.smooth")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("intro.min-score", 0.7, "minimum correlation accepted as a match")
	if err := viper.BindPFlag("intro.min-score", cmd.PersistentFlags().Lookup("intro.min-score")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("intro.max-scan", 10*time.Minute, "how much of each video is searched")
	if err := viper.BindPFlag("intro.max-scan", cmd.PersistentFlags().Lookup("intro.max-scan")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("intro.max-reference", 3*time.Minute, "maximum length of a reference clip")
	if err := viper.BindPFlag("intro.max-reference", cmd.PersistentFlags().Lookup("intro.max-reference")); err != nil {
		return err
	}

	return nil
}

func (i *Intro) Set() {
	i.Enabled = viper.GetBool("intro.enabled")
	i.SampleRate = viper.GetInt("intro.sample-rate")
	i.Frame = viper.GetDuration("intro.frame")
	i.Smooth = viper.GetInt("intro.smooth")
	i.MinScore = viper.GetFloat64("intro.min-score")
	i.MaxScan = viper.GetDuration("intro.max-scan")
	i.MaxReference = viper.GetDuration("intro.max-reference")
}

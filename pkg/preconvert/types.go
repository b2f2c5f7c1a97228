package preconvert

import (
	"context"
	"time"

	"github.com/m1k1o/localwatch/pkg/derive"
	"github.com/m1k1o/localwatch/pkg/jobs"
	"github.com/m1k1o/localwatch/pkg/probe"
)

// Engine is the part of the derivation engine the preconverter drives.
type Engine interface {
	Resolve(relPath string) (*derive.Target, error)
	PlanFor(ctx context.Context, path string) (derive.Plan, *probe.Metadata)
	SubmitTarget(target *derive.Target, reason jobs.Reason) *jobs.Ticket
}

// Config of the preconverter. Concurrency of background derivations is
// bounded by the job registry.
type Config struct {
	Schedule   string
	StartDelay time.Duration
	MaxLoad    float64 // one minute load average, zero disables the check
}

func (c Config) withDefaultValues() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 15m"
	}
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	return c
}

type ScanResult struct {
	Scanned int  `json:"scanned"`
	Pending int  `json:"pending"`
	Derived int  `json:"derived"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped"`
}

// Package stats samples coarse host CPU and memory usage.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Reading is one sample. Values are percentages in [0,100].
type Reading struct {
	CPUPercent float64
	RAMPercent float64
	At         time.Time
}

// Sampler produces one reading. The default reads the host through gopsutil.
type Sampler func(ctx context.Context) (Reading, error)

// HostSampler reports CPU usage since the previous call and current memory usage.
func HostSampler(ctx context.Context) (Reading, error) {
	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Reading{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{}, err
	}
	r := Reading{RAMPercent: vm.UsedPercent, At: time.Now()}
	if len(cpus) > 0 {
		r.CPUPercent = cpus[0]
	}
	return r, nil
}

// Probe samples on a fixed interval. Latest is safe from any goroutine.
type Probe struct {
	interval time.Duration
	sample   Sampler
	latest   atomic.Pointer[Reading]
}

func NewProbe(interval time.Duration, sample Sampler) *Probe {
	if interval <= 0 {
		interval = time.Second
	}
	if sample == nil {
		sample = HostSampler
	}
	p := &Probe{interval: interval, sample: sample}
	p.latest.Store(&Reading{})
	return p
}

// Run samples until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Probe) tick(ctx context.Context) {
	r, err := p.sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("stats sample failed")
		}
		return
	}
	p.latest.Store(&r)
}

// Latest returns the most recent reading; zero before the first sample.
func (p *Probe) Latest() Reading {
	return *p.latest.Load()
}

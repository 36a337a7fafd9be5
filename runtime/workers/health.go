package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HealthWorker periodically logs the process's own CPU and memory usage
// so a drifting session fan-out shows up without external tooling.
type HealthWorker struct {
	log      *slog.Logger
	interval time.Duration
}

func NewHealthWorker(log *slog.Logger, interval time.Duration) *HealthWorker {
	return &HealthWorker{log: log, interval: interval}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			memInfo, err := p.MemoryInfo()
			if err != nil {
				w.log.Error("Failed to collect memory stats", "err", err)
				continue
			}
			cpuPercent, err := p.CPUPercent()
			if err != nil {
				w.log.Error("Failed to collect cpu stats", "err", err)
				continue
			}
			w.log.Info("Process health",
				"rss_bytes", memInfo.RSS,
				"cpu_percent", cpuPercent)
		}
	}
}

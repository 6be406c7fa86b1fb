package bot

import (
	"context"
	"log"
	"time"

	"github.com/coah80/mergebot/internal/alerts"
	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/util"
)

const (
	diskCheckInterval = 60 * time.Second
	staleAge          = 24 * time.Hour
)

// diskMonitor watches free space in the download directory and alerts when
// it crosses the low-space threshold.
type diskMonitor struct {
	root    string
	minGB   float64
	lastLow *bool
	check   func(path string) (util.DiskSpaceInfo, error)
}

func newDiskMonitor() *diskMonitor {
	return &diskMonitor{
		root:  config.DownloadDir,
		minGB: float64(config.DiskSpaceMinGB),
		check: util.GetDiskSpace,
	}
}

func (m *diskMonitor) start(ctx context.Context) {
	go func() {
		m.tick()

		ticker := time.NewTicker(diskCheckInterval)
		defer ticker.Stop()
		sweeps := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
				sweeps++
				if time.Duration(sweeps)*diskCheckInterval >= config.SweepInterval {
					sweeps = 0
					util.CleanupStale(m.root, staleAge)
				}
			}
		}
	}()
	log.Println("[Status] Disk monitor started, checking every 60s")
}

// tick reports whether the state changed since the previous check.
func (m *diskMonitor) tick() bool {
	ds, err := m.check(m.root)
	if err != nil {
		log.Printf("[Status] Disk check failed: %v", err)
		return false
	}
	low := ds.AvailGB < m.minGB

	if m.lastLow == nil {
		m.lastLow = &low
		log.Printf("[Status] Initial disk state: %.1fGB free (low=%v)", ds.AvailGB, low)
		if low {
			alerts.LowDiskSpace(ds.AvailGB)
		}
		return false
	}

	if low == *m.lastLow {
		return false
	}
	m.lastLow = &low
	log.Printf("[Status] Disk state changed: low=%v (%.1fGB free)", low, ds.AvailGB)
	if low {
		alerts.LowDiskSpace(ds.AvailGB)
	}
	return true
}

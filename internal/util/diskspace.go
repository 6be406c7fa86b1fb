package util

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

const gb = 1024 * 1024 * 1024

type DiskSpaceInfo struct {
	AvailGB float64
	TotalGB float64
	UsedGB  float64
}

func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskSpaceInfo{}, err
	}
	availGB := float64(usage.Free) / gb
	totalGB := float64(usage.Total) / gb
	return DiskSpaceInfo{
		AvailGB: availGB,
		TotalGB: totalGB,
		UsedGB:  totalGB - availGB,
	}, nil
}

// HostStats is the snapshot behind /stats.
type HostStats struct {
	Uptime      time.Duration `json:"-"`
	UptimeText  string        `json:"uptime"`
	DiskTotal   uint64        `json:"diskTotal"`
	DiskUsed    uint64        `json:"diskUsed"`
	DiskFree    uint64        `json:"diskFree"`
	DiskPercent float64       `json:"diskPercent"`
	CPUPercent  float64       `json:"cpuPercent"`
	MemPercent  float64       `json:"memPercent"`
	BytesSent   uint64        `json:"bytesSent"`
	BytesRecv   uint64        `json:"bytesRecv"`
}

// CollectHostStats samples disk usage of path plus CPU, memory and network
// counters. Individual probe failures leave their fields zero.
func CollectHostStats(ctx context.Context, path string, started time.Time) HostStats {
	st := HostStats{Uptime: time.Since(started).Truncate(time.Second)}
	st.UptimeText = st.Uptime.String()

	if usage, err := disk.UsageWithContext(ctx, path); err == nil {
		st.DiskTotal = usage.Total
		st.DiskUsed = usage.Used
		st.DiskFree = usage.Free
		st.DiskPercent = usage.UsedPercent
	}
	if pct, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false); err == nil && len(pct) > 0 {
		st.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		st.MemPercent = vm.UsedPercent
	}
	if counters, err := psnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		st.BytesSent = counters[0].BytesSent
		st.BytesRecv = counters[0].BytesRecv
	}
	return st
}

package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo gathers system information. Fields gopsutil cannot read
// stay empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil && hostInfo.Platform != "" {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// HostUsage is a point-in-time view of host load.
type HostUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskFreeMB    uint64  `json:"disk_free_mb"`
	DiskPercent   float64 `json:"disk_percent"`
}

// GetHostUsage samples CPU and memory load and the disk holding path.
// Errors from individual probes leave their fields zero.
func GetHostUsage(path string) HostUsage {
	var usage HostUsage

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		usage.CPUPercent = percentages[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		usage.MemoryUsedMB = memInfo.Used / (1024 * 1024)
		usage.MemoryPercent = memInfo.UsedPercent
	}

	if path == "" {
		path = "."
	}
	if d, err := disk.Usage(path); err == nil {
		usage.DiskFreeMB = d.Free / (1024 * 1024)
		usage.DiskPercent = d.UsedPercent
	}

	return usage
}

// ProcessUsage is the resource footprint of this process.
type ProcessUsage struct {
	RSSMB      uint64  `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	OpenFiles  int32   `json:"open_files"`
	Goroutines int     `json:"goroutines"`
}

// GetProcessUsage samples the running process. Probes the platform does
// not support leave their fields zero.
func GetProcessUsage() ProcessUsage {
	usage := ProcessUsage{Goroutines: runtime.NumGoroutine()}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return usage
	}
	if m, err := p.MemoryInfo(); err == nil {
		usage.RSSMB = m.RSS / (1024 * 1024)
	}
	if pct, err := p.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	if n, err := p.NumThreads(); err == nil {
		usage.Threads = n
	}
	if n, err := p.NumFDs(); err == nil {
		usage.OpenFiles = n
	}
	return usage
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

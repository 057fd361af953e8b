package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// ProcMetricSource samples CPU and memory from procfs and disk usage through statfs.
type ProcMetricSource struct {
	procRoot string
	diskPath string
	interval time.Duration
	now      func() time.Time
}

// NewProcMetricSource reads from procRoot (normally /proc) and reports usage of diskPath.
func NewProcMetricSource(procRoot, diskPath string) *ProcMetricSource {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &ProcMetricSource{procRoot: procRoot, diskPath: diskPath, interval: time.Second, now: time.Now}
}

// Sample implements MetricSource. CPU usage is measured across one sampling interval.
func (p *ProcMetricSource) Sample(ctx context.Context) (models.MetricsSnapshot, error) {
	first, err := p.readCPU()
	if err != nil {
		return models.MetricsSnapshot{}, err
	}
	select {
	case <-ctx.Done():
		return models.MetricsSnapshot{}, ctx.Err()
	case <-time.After(p.interval):
	}
	second, err := p.readCPU()
	if err != nil {
		return models.MetricsSnapshot{}, err
	}

	mem, err := p.readMemory()
	if err != nil {
		return models.MetricsSnapshot{}, err
	}
	disk, err := diskUsage(p.diskPath)
	if err != nil {
		return models.MetricsSnapshot{}, err
	}

	return models.MetricsSnapshot{
		CPUPercent:    cpuPercent(first, second),
		MemoryPercent: mem,
		DiskPercent:   disk,
		SampledAt:     p.now(),
	}, nil
}

type cpuTimes struct {
	idle  uint64
	total uint64
}

func (p *ProcMetricSource) readCPU() (cpuTimes, error) {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "stat"))
	if err != nil {
		return cpuTimes{}, fmt.Errorf("read stat: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		// user nice system idle iowait irq softirq steal ...
		fields := strings.Fields(line)[1:]
		var t cpuTimes
		for i, f := range fields {
			v, _ := strconv.ParseUint(f, 10, 64)
			t.total += v
			if i == 3 || i == 4 {
				t.idle += v
			}
		}
		return t, nil
	}
	return cpuTimes{}, fmt.Errorf("stat: no aggregate cpu line")
}

func cpuPercent(a, b cpuTimes) float64 {
	if b.total <= a.total {
		return 0
	}
	total := float64(b.total - a.total)
	idle := float64(b.idle - a.idle)
	return round1((1 - idle/total) * 100)
}

func (p *ProcMetricSource) readMemory() (float64, error) {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "meminfo"))
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	kv := make(map[string]uint64)
	for _, line := range strings.Split(string(data), "\n") {
		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err == nil {
			kv[key] = v
		}
	}
	total := kv["MemTotal"]
	if total == 0 {
		return 0, fmt.Errorf("meminfo: MemTotal missing")
	}
	available, ok := kv["MemAvailable"]
	if !ok {
		available = kv["MemFree"] + kv["Buffers"] + kv["Cached"]
	}
	return round1(float64(total-min(available, total)) / float64(total) * 100), nil
}

func diskUsage(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	used := (stat.Blocks - stat.Bfree) * uint64(stat.Bsize)
	avail := stat.Bavail * uint64(stat.Bsize)
	if used+avail == 0 {
		return 0, nil
	}
	return round1(float64(used) / float64(used+avail) * 100), nil
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

package node

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/devraj/shardfs/internal/wire"
)

// statSampler tracks enough process-CPU-time history to derive a cpu_pct
// delta between heartbeats, the way original_source/node.py's psutil-backed
// get_stats does implicitly via psutil's own internal sampling window. No
// dependency in the retrieved pack provides OS-level CPU/RAM/disk sampling
// (see SPEC_FULL.md's DOMAIN STACK section), so this samples with the
// standard library and /proc on Linux, falling back to 0 elsewhere.
type statSampler struct {
	mu        sync.Mutex
	lastCPU   time.Duration
	lastWall  time.Time
	clockTick float64
}

func newStatSampler() *statSampler {
	return &statSampler{lastWall: time.Now(), clockTick: 100}
}

// sample gathers a Stats snapshot for storageRoot.
func (s *statSampler) sample(storageRoot string) wire.Stats {
	return wire.Stats{
		CPUPercent:  s.cpuPercent(),
		RAMPercent:  ramPercent(),
		RAMUsed:     ramUsed(),
		DiskPercent: diskPercent(storageRoot),
		DiskFree:    diskFree(storageRoot),
	}
}

// cpuPercent reports this process's CPU usage since the previous sample, as
// a percentage of one core, read from /proc/[pid]/stat on Linux.
func (s *statSampler) cpuPercent() float64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	cpu, err := readProcCPUTime(os.Getpid(), s.clockTick)
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(s.lastWall).Seconds()
	delta := cpu - s.lastCPU
	s.lastCPU = cpu
	s.lastWall = now
	if elapsed <= 0 {
		return 0
	}
	pct := delta.Seconds() / elapsed * 100
	if pct < 0 {
		pct = 0
	}
	return round1(pct)
}

// readProcCPUTime parses utime+stime (fields 14, 15) out of
// /proc/[pid]/stat and converts clock ticks to a time.Duration.
func readProcCPUTime(pid int, clockTick float64) (time.Duration, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("opening /proc stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 4096)
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty /proc stat")
	}
	// Field 2 (comm) may itself contain spaces inside parentheses, so split
	// on the closing paren and tokenize everything after it.
	line := scanner.Text()
	idx := strings.LastIndex(line, ")")
	if idx == -1 || idx+2 >= len(line) {
		return 0, fmt.Errorf("malformed /proc stat line")
	}
	fields := strings.Fields(line[idx+2:])
	// fields[0] is field 3 (state); utime is field 14 -> fields[11], stime
	// is field 15 -> fields[12].
	if len(fields) < 13 {
		return 0, fmt.Errorf("too few fields in /proc stat")
	}
	utime, err := strconv.ParseFloat(fields[11], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing utime: %w", err)
	}
	stime, err := strconv.ParseFloat(fields[12], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing stime: %w", err)
	}
	seconds := (utime + stime) / clockTick
	return time.Duration(seconds * float64(time.Second)), nil
}

// ramUsed returns the total memory the Go runtime has obtained from the OS
// for this process (runtime.MemStats.Sys), the closest stdlib analogue to
// psutil's virtual_memory().used for a single process.
func ramUsed() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// ramPercent divides process RAM usage by total system RAM, read from
// syscall.Sysinfo on Linux.
func ramPercent() float64 {
	total := totalSystemRAM()
	if total == 0 {
		return 0
	}
	return round1(float64(ramUsed()) / float64(total) * 100)
}

func totalSystemRAM() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}

// diskPercent and diskFree report usage of the filesystem backing dir via
// syscall.Statfs.
func diskPercent(dir string) float64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return 0
	}
	used := total - free
	return round1(float64(used) / float64(total) * 100)
}

func diskFree(dir string) uint64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0
	}
	return stat.Bavail * uint64(stat.Bsize)
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

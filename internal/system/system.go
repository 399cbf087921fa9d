package system

import (
	"os"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// InitResourceLimits raises the open-file limit so compositions with many
// asset sources do not exhaust descriptors mid-playback.
func InitResourceLimits(log zerolog.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("не удалось получить лимит файлов")
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("не удалось установить лимит файлов")
	} else {
		log.Info().Uint64("limit", rLimit.Cur).Msg("системный лимит открытых файлов увеличен")
	}
}

// Snapshot is a point-in-time view of the player process, attached to FPS
// diagnostics so sync drift can be correlated with host load.
type Snapshot struct {
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
}

// Sample reads the current process state. Errors degrade to zero values;
// diagnostics must never break playback.
func Sample() Snapshot {
	snap := Snapshot{Goroutines: runtime.NumGoroutine()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return snap
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		snap.RSSBytes = mem.RSS
	}
	return snap
}

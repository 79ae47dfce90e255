// Package profiling collects pprof data for long-running repoqa processes.
//
// A Session writes all profiles into a single directory so an operator can
// point `go tool pprof` at it after the process exits. The api and serve
// commands start a session when --profile-dir is set.
package profiling

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
)

// Session captures a CPU profile for the lifetime of the process and a heap
// snapshot when stopped.
type Session struct {
	dir     string
	cpuFile *os.File
}

// Start begins profiling into dir, creating it if needed. The returned
// session must be stopped to flush the CPU profile.
func Start(dir string) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "cpu.pprof"))
	if err != nil {
		return nil, fmt.Errorf("create cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}

	return &Session{dir: dir, cpuFile: f}, nil
}

// Stop ends the CPU profile and writes heap and goroutine snapshots.
func (s *Session) Stop() error {
	pprof.StopCPUProfile()
	if err := s.cpuFile.Close(); err != nil {
		return fmt.Errorf("close cpu profile: %w", err)
	}

	if err := s.writeHeap(); err != nil {
		return err
	}
	return s.writeGoroutines()
}

func (s *Session) writeHeap() error {
	f, err := os.Create(filepath.Join(s.dir, "heap.pprof"))
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect garbage first so the snapshot reflects live objects.
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}

func (s *Session) writeGoroutines() error {
	f, err := os.Create(filepath.Join(s.dir, "goroutine.pprof"))
	if err != nil {
		return fmt.Errorf("create goroutine profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup("goroutine").WriteTo(f, 0); err != nil {
		return fmt.Errorf("write goroutine profile: %w", err)
	}
	return nil
}

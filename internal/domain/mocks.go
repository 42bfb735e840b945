package domain

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// MockRunner records every command it is asked to run. FailOn maps a
// substring of the command line to the error returned when it matches;
// FailFn allows finer-grained failures (e.g. a single matrix cell).
type MockRunner struct {
	mu     sync.Mutex
	Calls  []Command
	FailOn map[string]error
	FailFn func(Command) error
}

func (m *MockRunner) Run(_ context.Context, cmd Command) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	m.mu.Unlock()

	for sub, err := range m.FailOn {
		if strings.Contains(cmd.Line, sub) {
			return "", err
		}
	}
	if m.FailFn != nil {
		if err := m.FailFn(cmd); err != nil {
			return "", err
		}
	}
	return "ok\n", nil
}

// Ran reports whether any recorded command line contains sub.
func (m *MockRunner) Ran(sub string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Calls {
		if strings.Contains(c.Line, sub) {
			return true
		}
	}
	return false
}

// MockArchiver fakes packaging by writing placeholder archives, and real
// sidecars so checksum assertions stay meaningful.
type MockArchiver struct {
	mu      sync.Mutex
	Packed  []string
	PackErr error
}

func (m *MockArchiver) Pack(_ context.Context, src, dest string, _ ArchiveFormat) error {
	if m.PackErr != nil {
		return m.PackErr
	}
	m.mu.Lock()
	m.Packed = append(m.Packed, dest)
	m.mu.Unlock()
	return os.WriteFile(dest, []byte("archive:"+src), 0o644)
}

func (m *MockArchiver) Checksum(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%064x", len(b)), nil
}

func (m *MockArchiver) WriteChecksum(path string) (string, error) {
	digest, err := m.Checksum(path)
	if err != nil {
		return "", err
	}
	sidecar := path + ".sha256"
	if err := os.WriteFile(sidecar, []byte(digest), 0o644); err != nil {
		return "", err
	}
	return sidecar, nil
}

// MockPublisher records release creations.
type MockPublisher struct {
	mu       sync.Mutex
	Releases []Release
	Err      error
}

func (m *MockPublisher) Publish(_ context.Context, tag string, files []string) (Release, error) {
	if m.Err != nil {
		return Release{}, m.Err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, baseName(f))
	}
	rel := Release{Tag: tag, Files: names}
	m.mu.Lock()
	m.Releases = append(m.Releases, rel)
	m.mu.Unlock()
	return rel, nil
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// MockStore collects saved runs in memory.
type MockStore struct {
	Runs []Run
	Err  error
}

func (m *MockStore) SaveRun(_ context.Context, r Run) error {
	if m.Err != nil {
		return m.Err
	}
	m.Runs = append(m.Runs, r)
	return nil
}

func (m *MockStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if limit > 0 && limit < len(m.Runs) {
		return m.Runs[:limit], nil
	}
	return m.Runs, nil
}

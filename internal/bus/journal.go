package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxJournalLine bounds a single journal line when scanning.
const maxJournalLine = 4 * 1024 * 1024

// Journal is the append-only JSONL record of published envelopes. One JSON
// object per line, human-inspectable, replayable. Appends hold an exclusive
// lock for the duration of one write+sync.
type Journal struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	logger *slog.Logger
}

// OpenJournal opens (creating if needed) the journal file for appending.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &Journal{path: path, f: f, logger: logger}, nil
}

// Append writes one envelope as a JSON line and forces it to disk.
func (j *Journal) Append(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// ScanJournal reads a JSONL journal and invokes fn for every envelope whose
// topic starts with prefix (empty prefix matches all). Malformed lines are
// skipped and counted, never fatal. Returns the number of envelopes
// delivered to fn.
func ScanJournal(path, prefix string, logger *slog.Logger, fn func(*Envelope) error) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat journal: %w", err)
	}

	// The scan is bounded to the file's size at open. Lines appended while
	// scanning are not visited, so a replay that publishes back onto its
	// own journal terminates after the original entries.
	scanner := bufio.NewScanner(io.LimitReader(f, fi.Size()))
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)

	var delivered, malformed int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			malformed++
			continue
		}
		if prefix != "" && !strings.HasPrefix(env.Topic, prefix) {
			continue
		}

		if err := fn(&env); err != nil {
			return delivered, err
		}
		delivered++
	}
	if err := scanner.Err(); err != nil {
		return delivered, fmt.Errorf("scan journal: %w", err)
	}

	if malformed > 0 {
		logger.Warn("skipped malformed journal lines",
			"path", path,
			"count", malformed,
		)
	}
	return delivered, nil
}

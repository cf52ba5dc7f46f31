package symbols

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ExportSelected writes the symbols chosen for this round so downstream
// consumers can pick them up.
func ExportSelected(path string, symbols []string) error {
	if symbols == nil {
		symbols = []string{}
	}
	data, err := json.MarshalIndent(symbols, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal selected symbols: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("failed to export selected symbols: %w", err)
	}
	return nil
}

// HistoryEntry is one recorded symbol plan.
type HistoryEntry struct {
	Timestamp   string       `json:"timestamp"`
	Assignments []Assignment `json:"symbols"`
}

// History is an append-only JSON log of symbol plans.
type History struct {
	path string
	mu   sync.Mutex
}

// NewHistory creates a history log at path.
func NewHistory(path string) *History {
	return &History{path: path}
}

// Record appends a plan to the log.
func (h *History) Record(timestamp string, plan Plan) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.read()
	if err != nil {
		return err
	}
	entries = append(entries, HistoryEntry{Timestamp: timestamp, Assignments: plan.Assignments})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal symbol history: %w", err)
	}
	return writeFile(h.path, data)
}

// Entries returns every recorded plan, oldest first.
func (h *History) Entries() ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.read()
}

func (h *History) read() ([]HistoryEntry, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol history: %w", err)
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse symbol history: %w", err)
	}
	return entries, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

func TestFileSinkWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	sink := NewFileSink(&config.AuditFileConfig{Path: path, MaxSizeMB: 10, MaxBackups: 1})

	if err := sink.Write(Record{RequestID: "r1", Status: 200}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(Record{RequestID: "r2", Status: 404}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
}

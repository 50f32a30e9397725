package audit

import (
	"bufio"
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

// flushInterval is how often buffered records are forced to disk between
// explicit Close calls.
const flushInterval = 2 * time.Second

// FileSink writes one JSON object per line to a lumberjack-rotated file,
// buffering writes and flushing periodically and at Close, per spec §4.12.
type FileSink struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
	w      *bufio.Writer
	stop   chan struct{}
}

// NewFileSink builds a FileSink from its AuditFileConfig and starts its
// periodic flush loop.
func NewFileSink(cfg *config.AuditFileConfig) *FileSink {
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	f := &FileSink{
		logger: lj,
		w:      bufio.NewWriter(lj),
		stop:   make(chan struct{}),
	}
	go f.flushLoop()
	return f
}

func (f *FileSink) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = f.Flush()
		case <-f.stop:
			return
		}
	}
}

func (f *FileSink) Name() string { return "file" }

func (f *FileSink) Write(r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := f.w.Write(b); err != nil {
		return err
	}
	return f.w.WriteByte('\n')
}

// Flush forces buffered records to disk without closing the sink.
func (f *FileSink) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Flush()
}

func (f *FileSink) Close() error {
	close(f.stop)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.w.Flush(); err != nil {
		return err
	}
	return f.logger.Close()
}

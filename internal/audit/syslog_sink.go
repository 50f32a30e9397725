package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"sync"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

// SyslogSink ships records through the standard library's log/syslog writer
// over TCP or UDP, reconnecting on write failure per spec §4.12. Messages use
// that writer's "<PRI>timestamp hostname tag[pid]: msg" framing; the RFC5424
// header (version field, structured data) is not written.
type SyslogSink struct {
	network string
	address string
	tag     string

	mu     sync.Mutex
	writer *syslog.Writer
}

// NewSyslogSink dials the configured syslog endpoint. A dial failure at
// construction time is not fatal — Write retries the connection lazily so
// a syslog collector that is briefly down at startup does not prevent the
// gateway from serving traffic.
func NewSyslogSink(cfg *config.AuditSyslogConfig) *SyslogSink {
	s := &SyslogSink{network: cfg.Network, address: cfg.Address, tag: cfg.Tag}
	s.writer, _ = syslog.Dial(s.network, s.address, syslog.LOG_INFO|syslog.LOG_LOCAL0, s.tag)
	return s
}

func (s *SyslogSink) Name() string { return "syslog" }

func (s *SyslogSink) Write(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		w, err := syslog.Dial(s.network, s.address, syslog.LOG_INFO|syslog.LOG_LOCAL0, s.tag)
		if err != nil {
			return fmt.Errorf("audit: syslog reconnect failed: %w", err)
		}
		s.writer = w
	}

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.writer.Info(string(b)); err != nil {
		s.writer.Close()
		s.writer = nil
		return fmt.Errorf("audit: syslog write failed, will reconnect on next record: %w", err)
	}
	return nil
}

func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

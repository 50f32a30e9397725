package audit

import (
	"fmt"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

// BuildSinks constructs one Sink per entry in cfg.Sinks, in order, per
// spec §4.12's configured sink list ("file", "syslog", "s3").
func BuildSinks(cfg *config.AuditConfig) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for _, kind := range cfg.Sinks {
		switch kind {
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("audit: sink %q configured without a file section", kind)
			}
			sinks = append(sinks, NewFileSink(cfg.File))
		case "syslog":
			if cfg.Syslog == nil {
				return nil, fmt.Errorf("audit: sink %q configured without a syslog section", kind)
			}
			sinks = append(sinks, NewSyslogSink(cfg.Syslog))
		case "s3":
			if cfg.S3 == nil {
				return nil, fmt.Errorf("audit: sink %q configured without an s3 section", kind)
			}
			s3Sink, err := NewS3Sink(cfg.S3)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s3Sink)
		default:
			return nil, fmt.Errorf("audit: unknown sink kind %q", kind)
		}
	}
	return sinks, nil
}

// NewQueueFromConfig builds sinks and wraps them in a Queue sized per
// cfg.QueueSize.
func NewQueueFromConfig(cfg *config.AuditConfig) (*Queue, error) {
	sinks, err := BuildSinks(cfg)
	if err != nil {
		return nil, err
	}
	return NewQueue(cfg.QueueSize, sinks), nil
}

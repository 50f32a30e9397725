package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/log"
)

// S3Sink batches records into local JSON-lines files and uploads them to a
// configured bucket on interval, per spec §4.12. Local copies are kept
// until their upload succeeds; a failed upload is retried with backoff on
// the next interval tick rather than abandoning the file.
type S3Sink struct {
	cfg      *config.AuditS3Config
	uploader *manager.Uploader

	mu          sync.Mutex
	current     *os.File
	currentPath string
	w           *bufio.Writer

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewS3Sink builds an S3Sink and starts its periodic upload loop.
func NewS3Sink(cfg *config.AuditS3Config) (*S3Sink, error) {
	if err := os.MkdirAll(cfg.LocalDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create s3 sink local directory: %w", err)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("audit: load AWS config for s3 sink: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	s := &S3Sink{
		cfg:      cfg,
		uploader: manager.NewUploader(client),
		stop:     make(chan struct{}),
	}
	if err := s.rotate(); err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go s.uploadLoop()
	return s, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Write(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *S3Sink) rotate() error {
	name := fmt.Sprintf("yatagarasu-audit-%s.jsonl", time.Now().UTC().Format("2006-01-02-15-04-05"))
	path := filepath.Join(s.cfg.LocalDirectory, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create s3 sink batch file: %w", err)
	}
	s.current = f
	s.currentPath = path
	s.w = bufio.NewWriter(f)
	return nil
}

func (s *S3Sink) uploadLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.rotateAndUpload()
		case <-s.stop:
			s.rotateAndUpload()
			return
		}
	}
}

// rotateAndUpload closes the current batch file, opens a fresh one so
// writers are never blocked, then uploads every closed batch file in the
// local directory (including ones left by an earlier failed upload) and
// removes each locally only once its upload has succeeded.
func (s *S3Sink) rotateAndUpload() {
	s.mu.Lock()
	if err := s.w.Flush(); err != nil {
		log.Warn("audit s3 sink flush failed", log.Pairs{"err": err.Error()})
	}
	_ = s.current.Close()
	if err := s.rotate(); err != nil {
		log.Warn("audit s3 sink rotate failed", log.Pairs{"err": err.Error()})
	}
	activePath := s.currentPath
	s.mu.Unlock()

	pending, _ := filepath.Glob(filepath.Join(s.cfg.LocalDirectory, "yatagarasu-audit-*.jsonl"))
	for _, path := range pending {
		if path == activePath {
			continue
		}
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			_ = os.Remove(path)
			continue
		}
		s.uploadWithRetry(path)
	}
}

func (s *S3Sink) uploadWithRetry(path string) {
	const maxAttempts = 3
	backoff := time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.upload(path); err != nil {
			log.Warn("audit s3 sink upload failed, will retry", log.Pairs{"path": path, "attempt": attempt, "err": err.Error()})
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		_ = os.Remove(path)
		return
	}
	log.Warn("audit s3 sink upload exhausted retries, leaving file on disk", log.Pairs{"path": path})
}

func (s *S3Sink) upload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := s.cfg.Prefix + filepath.Base(path)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}

func (s *S3Sink) Close() error {
	close(s.stop)
	s.wg.Wait()
	return nil
}

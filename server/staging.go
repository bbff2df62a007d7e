package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"

	"github.com/chaos-io/pixfix/logger"
	"github.com/chaos-io/pixfix/metrics"
)

// Stager 管理请求过程中的临时文件，文件名带 ksuid，并发请求之间不会冲突
type Stager struct {
	fs      afero.Fs
	dir     string
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	cron    *cron.Cron
}

func NewStager(fs afero.Fs, dir string, ttl time.Duration, l *slog.Logger, m *metrics.Metrics) (*Stager, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Stager{fs: fs, dir: dir, ttl: ttl, logger: logger.OrDefault(l), metrics: m}, nil
}

func (s *Stager) Fs() afero.Fs {
	return s.fs
}

// Path 生成一个新的临时文件路径，如 temp_images/input_2Hx....jpg
func (s *Stager) Path(prefix, ext string) string {
	return filepath.Join(s.dir, prefix+"_"+ksuid.New().String()+ext)
}

// Write 写入临时文件并返回路径
func (s *Stager) Write(prefix, ext string, data []byte) (string, error) {
	path := s.Path(prefix, ext)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("stage file: %w", err)
	}
	return path, nil
}

// Sweep 删除修改时间早于 now-ttl 的临时文件
func (s *Stager) Sweep(now time.Time) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("list temp dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || now.Sub(e.ModTime()) < s.ttl {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Warn("remove staged file failed", "name", e.Name(), "err", err)
			continue
		}
		removed++
	}
	s.metrics.StagedFilesRemoved(removed)
	return removed, nil
}

// Clear 删除所有临时文件，目录本身保留
func (s *Stager) Clear() error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("list temp dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	s.metrics.StagedFilesRemoved(removed)
	return nil
}

// StartJanitor 按 cron 表达式定期清理过期文件
func (s *Stager) StartJanitor(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		n, err := s.Sweep(time.Now())
		if err != nil {
			s.logger.Error("sweep temp dir failed", "dir", s.dir, "err", err)
			return
		}
		if n > 0 {
			s.logger.Info("swept staged files", "dir", s.dir, "removed", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Close 停止清理任务并删除所有临时文件
func (s *Stager) Close(ctx context.Context) error {
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	return s.Clear()
}

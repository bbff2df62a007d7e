package processor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/pixfix/metrics"
	"github.com/chaos-io/pixfix/util"
)

// BatchJob 把一种操作应用到 InputDir 下所有支持的图片
type BatchJob struct {
	InputDir  string
	OutputDir string
	Op        Operation
	// Workers <= 1 时严格顺序处理
	Workers int
}

// ProgressUpdate 进度增量，给进度界面使用
type ProgressUpdate struct {
	TotalDelta     int
	ProcessedDelta int
	FailedDelta    int
	Current        string
}

type BatchReport struct {
	Kind      Kind
	InputDir  string
	OutputDir string
	// Results 与排序后的输入文件一一对应
	Results     []ProcessingResult
	Unsupported []string
	Duration    time.Duration
}

func (r *BatchReport) Processed() int {
	return len(r.Results)
}

func (r *BatchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success() {
			n++
		}
	}
	return n
}

func (r *BatchReport) Failed() int {
	return r.Processed() - r.Succeeded()
}

func (r *BatchReport) Failures() []ProcessingResult {
	var out []ProcessingResult
	for _, res := range r.Results {
		if !res.Success() {
			out = append(out, res)
		}
	}
	return out
}

type Dispatcher struct {
	proc    *Processor
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(p *Processor) *Dispatcher {
	return &Dispatcher{proc: p, logger: p.logger, metrics: p.metrics}
}

// Run 单张失败不影响其他图片；只有目录级的 IOError 和参数错误才返回 error
func (d *Dispatcher) Run(ctx context.Context, job BatchJob, updates chan<- ProgressUpdate) (*BatchReport, error) {
	if err := Validate(job.Op); err != nil {
		return nil, err
	}
	kind := job.Op.Kind()
	op := "batch " + kind.String()
	defer util.Trace(op)()
	start := time.Now()

	fs := d.proc.fs
	if err := fs.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, ioErr(op, job.OutputDir, fmt.Errorf("create output dir: %w", err))
	}
	entries, err := afero.ReadDir(fs, job.InputDir)
	if err != nil {
		return nil, ioErr(op, job.InputDir, fmt.Errorf("list input dir: %w", err))
	}

	report := &BatchReport{Kind: kind, InputDir: job.InputDir, OutputDir: job.OutputDir}
	var names []string
	var reserved map[string]bool
	if sameDir(job.InputDir, job.OutputDir) {
		reserved = make(map[string]bool, len(entries))
		for _, e := range entries {
			reserved[strings.ToLower(e.Name())] = true
		}
	}
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		if !d.proc.formats.Supports(e.Name()) {
			report.Unsupported = append(report.Unsupported, e.Name())
			d.metrics.BatchItem(kind.String(), "unsupported")
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	outputs := make([]string, len(names))
	for i, name := range names {
		outputs[i] = OutputName(kind, name)
	}
	outputs = dedupe(outputs, names, reserved)

	report.Results = make([]ProcessingResult, len(names))
	send(updates, ProgressUpdate{TotalDelta: len(names)})

	process := func(i int) {
		input := filepath.Join(job.InputDir, names[i])
		output := filepath.Join(job.OutputDir, outputs[i])

		var res ProcessingResult
		if err := ctx.Err(); err != nil {
			res = ProcessingResult{Kind: kind, Input: input, Output: output,
				Err: capabilityErr(kind.String(), input, fmt.Errorf("skipped: %w", err))}
		} else {
			res = d.proc.Process(ctx, job.Op, input, output)
		}
		report.Results[i] = res

		update := ProgressUpdate{ProcessedDelta: 1, Current: names[i]}
		if res.Success() {
			d.metrics.BatchItem(kind.String(), "succeeded")
		} else {
			update.FailedDelta = 1
			d.metrics.BatchItem(kind.String(), "failed")
		}
		send(updates, update)
	}

	if job.Workers <= 1 {
		for i := range names {
			process(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(job.Workers)
		for i := range names {
			g.Go(func() error {
				process(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	report.Duration = time.Since(start)
	d.logger.Info("batch finished",
		"op", kind.String(), "input_dir", job.InputDir, "output_dir", job.OutputDir,
		"processed", report.Processed(), "succeeded", report.Succeeded(),
		"failed", report.Failed(), "unsupported", len(report.Unsupported),
		"duration", report.Duration)
	if err := ctx.Err(); err != nil {
		d.logger.Warn("batch canceled", "op", kind.String(), "err", err)
	}
	return report, nil
}

func send(updates chan<- ProgressUpdate, u ProgressUpdate) {
	if updates != nil {
		updates <- u
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chaos-io/pixfix/processor"
	"github.com/chaos-io/pixfix/tui"
)

var (
	batchInputDir  string
	batchOutputDir string
	batchWorkers   int
	batchNoTUI     bool
	batchStrict    bool
	batchOpFlags   opFlags
)

var batchCmd = &cobra.Command{
	Use:   "batch [flags] <operation>",
	Short: "Apply one operation to every image in a directory",
	Long: "Apply one operation to every supported image (" + strings.Join(processor.SupportedFormats, " ") + ") in the input directory.\n" +
		"The operation is a name (remove_background, remove-background) or a menu number:\n" +
		menu(),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := processor.ParseKind(args[0])
		if err != nil {
			return err
		}
		op, err := batchOpFlags.operation(kind)
		if err != nil {
			return err
		}

		job := processor.BatchJob{
			InputDir:  cfg.Batch.InputDir,
			OutputDir: cfg.Batch.OutputDir,
			Op:        op,
			Workers:   cfg.Batch.Workers,
		}
		if cmd.Flags().Changed("input") {
			job.InputDir = batchInputDir
		}
		if cmd.Flags().Changed("output") {
			job.OutputDir = batchOutputDir
		}
		if cmd.Flags().Changed("workers") {
			job.Workers = batchWorkers
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dispatcher := processor.NewDispatcher(newProcessor(cfg, afero.NewOsFs(), nil))
		var report *processor.BatchReport
		if batchNoTUI || !isatty.IsTerminal(os.Stdout.Fd()) {
			report, err = dispatcher.Run(ctx, job, nil)
		} else {
			report, err = runWithProgress(ctx, dispatcher, job)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, tui.RenderSummary(tui.ReportRows(report)))
		if failures := tui.RenderFailures(report); failures != "" {
			fmt.Fprintln(os.Stdout, failures)
		}
		outPath := job.OutputDir
		if abs, absErr := filepath.Abs(outPath); absErr == nil {
			outPath = abs
		}
		fmt.Fprintf(os.Stdout, "Processed images written to: %s\n", outPath)
		// 单张失败已经在上面列出，只有 --strict 时才让退出码非零
		if batchStrict && report.Failed() > 0 {
			return fmt.Errorf("%d of %d images failed", report.Failed(), report.Processed())
		}
		return nil
	},
}

// runWithProgress 在界面里按 ctrl+c 会取消剩余任务
func runWithProgress(ctx context.Context, d *processor.Dispatcher, job processor.BatchJob) (*processor.BatchReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan processor.ProgressUpdate, 64)
	program := tea.NewProgram(tui.NewModel("pixfix "+job.Op.Kind().String(), updates))

	uiDone := make(chan struct{})
	go func() {
		final, err := program.Run()
		if err != nil {
			log.Warn("progress view failed", "err", err)
		}
		if m, ok := final.(tui.Model); ok && m.Interrupted() {
			cancel()
		}
		for range updates {
		}
		close(uiDone)
	}()

	report, err := d.Run(ctx, job, updates)
	close(updates)
	<-uiDone
	return report, err
}

func menu() string {
	var b strings.Builder
	for _, kind := range processor.Kinds {
		fmt.Fprintf(&b, "  %d. %s\n", int(kind), kind.String())
	}
	return b.String()
}

func init() {
	batchCmd.Flags().StringVarP(&batchInputDir, "input", "i", "input_images", "directory to read images from")
	batchCmd.Flags().StringVarP(&batchOutputDir, "output", "o", "output_images", "directory to write processed images to")
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 1, "number of images processed concurrently")
	batchCmd.Flags().BoolVar(&batchNoTUI, "no-tui", false, "disable the progress view")
	batchCmd.Flags().BoolVar(&batchStrict, "strict", false, "exit non-zero when any image fails")
	batchOpFlags.register(batchCmd, processor.Kinds...)

	rootCmd.AddCommand(batchCmd)
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chaos-io/pixfix/processor"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Apply one operation to a single image",
}

// newProcessKindCmd 例如 pixfix process resize --width 800 photo.jpg
func newProcessKindCmd(kind processor.Kind) *cobra.Command {
	var (
		flags  opFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   kind.Slug() + " [flags] <image>",
		Short: fmt.Sprintf("Run %s on one image", kind.String()),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			op, err := flags.operation(kind)
			if err != nil {
				return err
			}

			out := output
			if out == "" {
				out = processor.DefaultOutputPath(cfg.Batch.OutputDir, kind, input)
			}

			fs := afero.NewOsFs()
			if err := fs.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			res := newProcessor(cfg, fs, nil).Process(cmd.Context(), op, input, out)
			if !res.Success() {
				return res.Err
			}
			fmt.Fprintf(os.Stdout, "Saved %s (%s)\n", res.Output, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: <batch.output_dir>/<prefix><name>)")
	flags.register(cmd, kind)
	return cmd
}

func init() {
	for _, kind := range processor.Kinds {
		processCmd.AddCommand(newProcessKindCmd(kind))
	}

	rootCmd.AddCommand(processCmd)
}

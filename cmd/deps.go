package cmd

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chaos-io/pixfix/config"
	"github.com/chaos-io/pixfix/metrics"
	"github.com/chaos-io/pixfix/processor"
	"github.com/chaos-io/pixfix/transform"
	"github.com/chaos-io/pixfix/transform/rembg"
	nhttp "github.com/chaos-io/pixfix/util/http"
)

// newProcessor rembg.endpoint 配置时走 BiRefNet 服务，否则本地抠图
func newProcessor(c *config.Config, fs afero.Fs, m *metrics.Metrics) *processor.Processor {
	caps := processor.DefaultCapabilities()
	if c.RemBG.Endpoint != "" {
		caps.Remover = rembg.NewBiRefNetRemBG(c.RemBG.Endpoint, nhttp.NewHTTPClient(), rembg.WithTimeout(c.RemBG.Timeout))
		log.Debug("using remote background remover", "model", rembg.BiRefNetModel, "endpoint", c.RemBG.Endpoint)
	} else {
		caps.Remover = rembg.NewDefaultRemBG(c.RemBG.Tolerance)
		log.Warn("rembg.endpoint not set, remove-background uses the local border flood fill; set PIXFIX_REMBG__ENDPOINT for model-quality cutouts")
	}
	log.Debug("transform backend", "backend", transform.Backend)
	return processor.New(
		processor.WithFs(fs),
		processor.WithCapabilities(caps),
		processor.WithLogger(log),
		processor.WithMetrics(m),
	)
}

// opFlags 各操作自己的参数
type opFlags struct {
	width   int
	height  int
	mask    string
	corners []float64
}

func (f *opFlags) register(cmd *cobra.Command, kinds ...processor.Kind) {
	for _, kind := range kinds {
		switch kind {
		case processor.KindResize:
			cmd.Flags().IntVar(&f.width, "width", 0, "resize: target width in pixels, 0 keeps the aspect ratio")
			cmd.Flags().IntVar(&f.height, "height", 0, "resize: target height in pixels, 0 keeps the aspect ratio")
		case processor.KindRemoveObjects:
			cmd.Flags().StringVar(&f.mask, "mask", "", "remove-objects: mask image, non-zero pixels are filled (default: built-in square)")
		case processor.KindFixPerspective:
			cmd.Flags().Float64SliceVar(&f.corners, "corners", nil, "fix-perspective: x,y,x,y,x,y,x,y for top-left, top-right, bottom-right, bottom-left")
		}
	}
}

func (f *opFlags) operation(kind processor.Kind) (processor.Operation, error) {
	return processor.NewOperation(kind, processor.Params{
		Width:    f.width,
		Height:   f.height,
		MaskPath: f.mask,
		Corners:  f.corners,
	})
}

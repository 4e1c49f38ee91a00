package commands

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
	"github.com/bryanchriswhite/screenmask/internal/pipeline"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot FILE",
	Short: "Capture one frame of a display",
	Long: `Capture a single frame of a display through the adaptive capture router
and write it as PNG or JPEG (chosen by the file extension).

The capture method that produced the frame is printed, which makes this a
quick way to check which methods work on a machine.`,
	Example: `  # Capture the first display
  screenmask snapshot shot.png

  # Capture display 1 at half size
  screenmask snapshot --display 1 --scale 0.5 shot.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

var (
	snapshotDisplay int
	snapshotScale   float64
)

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().IntVarP(&snapshotDisplay, "display", "d", 0, "display id (see 'screenmask displays')")
	snapshotCmd.Flags().Float64VarP(&snapshotScale, "scale", "s", 1, "downscale ratio in (0, 1]")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	path := args[0]

	d, err := display.NewEnumerator(nil).Find(snapshotDisplay)
	if err != nil {
		return err
	}

	pctx, err := capture.AcquirePlatformContext()
	if err != nil {
		return fmt.Errorf("failed to initialize capture: %w", err)
	}
	defer pctx.Release()

	selector := capture.NewSelector()
	router := capture.NewPlatformRouter(selector)
	defer router.Close()

	frame, err := router.Capture(d)
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	if r, ok := geometry.EffectiveRatio(snapshotScale); ok {
		frame = pipeline.Downscale(frame, r)
	}

	if err := writeImage(path, frame.ToRGBA()); err != nil {
		return err
	}

	fmt.Printf("Saved %dx%d frame of %s to %s (preferred method: %s)\n",
		frame.Width, frame.Height, d, path, selector.Preferred(d.ID))
	return nil
}

func writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	case ".png", "":
		err = png.Encode(f, img)
	default:
		return fmt.Errorf("unsupported image format: %s (use .png or .jpg)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return f.Close()
}

// Package monitor renders diagnostic plots for batch runs: the per-detector
// residual spectra that were subtracted from each exposure, so a bad sky
// solution is visible at a glance instead of buried in a corrected cube.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ifu.report/internal/security"
	"github.com/banshee-data/ifu.report/internal/skyres"
)

// SpectrumPlotter writes one PNG per exposure showing every detector's
// residual spectrum against channel index.
type SpectrumPlotter struct {
	outputDir string
}

// NewSpectrumPlotter creates a plotter writing under outputDir, creating
// the directory if needed.
func NewSpectrumPlotter(outputDir string) (*SpectrumPlotter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &SpectrumPlotter{outputDir: outputDir}, nil
}

// Plot renders the exposure's residual spectra. Nil entries (failed
// detectors) are skipped; an exposure with no usable spectrum produces no
// file and no error. Returns the written path, empty if nothing was drawn.
func (sp *SpectrumPlotter) Plot(exposureID string, specs []*skyres.Spectrum) (string, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Sky Residual Spectra", exposureID)
	p.X.Label.Text = "Channel"
	p.Y.Label.Text = "Residual Flux"

	colors := []color.RGBA{
		{R: 0xd6, G: 0x28, B: 0x28, A: 0xff},
		{R: 0x28, G: 0x6e, B: 0xd6, A: 0xff},
		{R: 0x2e, G: 0x9e, B: 0x44, A: 0xff},
	}

	drawn := 0
	for i, spec := range specs {
		if spec == nil || spec.Channels() == 0 {
			continue
		}
		pts := make(plotter.XYs, 0, spec.Channels())
		for ch, v := range spec.Values {
			if spec.Flagged[ch] {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(ch), Y: v})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", err
		}
		line.Color = colors[i%len(colors)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("detector %d", spec.Detector), line)
		drawn++
	}
	if drawn == 0 {
		return "", nil
	}

	p.Legend.Top = true
	p.Legend.Left = false

	path := filepath.Join(sp.outputDir, fmt.Sprintf("%s_skyspec.png", security.SanitizeFilename(exposureID)))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save spectrum plot: %w", err)
	}
	return path, nil
}

package runlog

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/openfluke/bytecnn/nn"
)

// PlotHistory draws train and valid loss per epoch into a PNG at path.
// Non-finite points are left out.
func PlotHistory(h History, path string) error {
	p := plot.New()
	p.Title.Text = "epochs vs loss"
	p.X.Label.Text = "epochs"
	p.Y.Label.Text = "loss"

	for i, series := range []struct {
		name   string
		values []float64
	}{
		{"train", h.TrainLoss},
		{"valid", h.ValidLoss},
	} {
		if len(series.values) == 0 {
			continue
		}
		points := make(plotter.XYs, 0, len(series.values))
		for e, v := range series.values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			points = append(points, plotter.XY{X: float64(e + 1), Y: v})
		}
		if len(points) == 0 {
			continue
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return fmt.Errorf("plot %s: %w", series.name, err)
		}
		if i == 1 {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(series.name, line)
	}

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %v: %w", path, err, nn.ErrIO)
	}
	return nil
}

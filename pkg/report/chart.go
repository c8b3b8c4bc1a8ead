package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"histoquant/pkg/imageio"
	"histoquant/pkg/stats"
)

// conditionColor returns a distinct colour for the i-th of n conditions
func conditionColor(i, n int) drawing.Color {
	if n < 1 {
		n = 1
	}
	c := colorful.Hsv(360*float64(i)/float64(n), 0.6, 0.85)
	r, g, b := c.RGB255()
	return drawing.Color{R: r, G: g, B: b, A: 255}
}

// RenderChart draws the mean percentage of every (category, condition)
// pair of one stain as a bar chart PNG
func RenderChart(w io.Writer, stain string, results []*stats.Result) error {
	var bars []chart.Value
	for _, r := range results {
		if r.Stain != stain {
			continue
		}
		for i, g := range r.Groups {
			mean := g.Mean
			if math.IsNaN(mean) {
				mean = 0
			}
			bars = append(bars, chart.Value{
				Label: fmt.Sprintf("%s %s", r.Category, g.Condition),
				Value: mean,
				Style: chart.Style{
					FillColor:   conditionColor(i, len(r.Groups)),
					StrokeColor: conditionColor(i, len(r.Groups)),
					StrokeWidth: 1,
				},
			})
		}
	}
	if len(bars) == 0 {
		return fmt.Errorf("no statistics to chart for %s", stain)
	}

	graph := chart.BarChart{
		Title:    fmt.Sprintf("%s: mean area percentage by condition", stain),
		Width:    max(640, 60*len(bars)+120),
		Height:   480,
		BarWidth: 40,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Bottom: 40},
		},
		XAxis: chart.Style{FontSize: 8, TextRotationDegrees: 45},
		YAxis: chart.YAxis{
			Style: chart.Style{FontSize: 10},
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%.0f%%", v.(float64))
			},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, w)
}

// SaveCharts writes one chart per stain into dir and returns the paths
func SaveCharts(dir string, stains []string, results []*stats.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for _, stain := range stains {
		path := filepath.Join(dir, imageio.SafeName(stain)+"_summary.png")
		file, err := os.Create(path)
		if err != nil {
			return paths, err
		}
		err = RenderChart(file, stain, results)
		file.Close()
		if err != nil {
			os.Remove(path)
			return paths, fmt.Errorf("failed to render chart for %s: %w", stain, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

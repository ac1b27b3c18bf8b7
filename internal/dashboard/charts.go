package dashboard

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"go.uber.org/zap"
)

const (
	chartWidth  = 640
	chartHeight = 320
)

var fieldColors = map[string]drawing.Color{
	domain.FieldPH:      chart.ColorBlue,
	domain.FieldDO:      chart.ColorCyan,
	domain.FieldEC:      chart.ColorGreen,
	domain.FieldTDS:     chart.ColorOrange,
	domain.FieldTemp:    chart.ColorRed,
	domain.FieldArsenic: chart.ColorAlternateGray,
	domain.FieldBarium:  chart.ColorBlack,
}

var fieldUnits = map[string]string{
	domain.FieldPH:      "pH",
	domain.FieldDO:      "mg/L",
	domain.FieldEC:      "mS/cm",
	domain.FieldTDS:     "g/L",
	domain.FieldTemp:    "°C",
	domain.FieldArsenic: "ppb",
	domain.FieldBarium:  "ppb",
}

// ChartRenderer рисует по SVG-графику на каждое поле в каталог dir
type ChartRenderer struct {
	dir    string
	logger *zap.Logger
}

func NewChartRenderer(dir string, logger *zap.Logger) (*ChartRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chart dir: %w", err)
	}
	return &ChartRenderer{dir: dir, logger: logger}, nil
}

// Path возвращает путь к файлу графика поля
func (r *ChartRenderer) Path(field string) string {
	return filepath.Join(r.dir, field+".svg")
}

// Render перерисовывает графики по буферу показаний. Поля, у которых меньше
// двух значений, пропускаются. Возвращает список записанных полей.
func (r *ChartRenderer) Render(samples []domain.Sample) ([]string, error) {
	var written []string
	var firstErr error

	for _, field := range domain.MeasurementFields {
		series, ok := buildSeries(field, samples)
		if !ok {
			continue
		}

		if err := r.renderField(field, series); err != nil {
			r.logger.Warn("Failed to render chart", zap.String("field", field), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written = append(written, field)
	}

	return written, firstErr
}

type fieldSeries struct {
	times  []time.Time
	xs     []float64
	ys     []float64
	byTime bool
}

// buildSeries собирает точки поля. Ось X - время, если каждый Timestamp
// разбирается, иначе порядковый номер.
func buildSeries(field string, samples []domain.Sample) (fieldSeries, bool) {
	var fs fieldSeries
	fs.byTime = true

	for _, s := range samples {
		v := s.Value(field)
		if v == nil {
			continue
		}
		fs.ys = append(fs.ys, *v)
		fs.xs = append(fs.xs, float64(len(fs.xs)))

		t, ok := s.Timestamp.Time()
		if !ok {
			fs.byTime = false
		}
		fs.times = append(fs.times, t)
	}

	if len(fs.ys) < 2 {
		return fs, false
	}
	if fs.byTime && !strictlyIncreasing(fs.times) {
		fs.byTime = false
	}
	return fs, true
}

func strictlyIncreasing(ts []time.Time) bool {
	for i := 1; i < len(ts); i++ {
		if !ts[i].After(ts[i-1]) {
			return false
		}
	}
	return true
}

func (r *ChartRenderer) renderField(field string, fs fieldSeries) error {
	style := chart.Style{
		StrokeColor: fieldColors[field],
		StrokeWidth: 2,
		DotColor:    fieldColors[field],
		DotWidth:    3,
	}

	var series chart.Series
	xAxis := chart.XAxis{Name: "Reading"}
	if fs.byTime {
		series = chart.TimeSeries{Name: field, XValues: fs.times, YValues: fs.ys, Style: style}
		xAxis = chart.XAxis{Name: "Time", ValueFormatter: chart.TimeValueFormatterWithFormat("15:04:05")}
	} else {
		series = chart.ContinuousSeries{Name: field, XValues: fs.xs, YValues: fs.ys, Style: style}
	}

	ch := chart.Chart{
		Title:      field,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      xAxis,
		YAxis:      chart.YAxis{Name: fieldUnits[field], Range: yRange(fs.ys)},
		Series:     []chart.Series{series},
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.SVG, &buf); err != nil {
		return fmt.Errorf("render %s: %w", field, err)
	}

	path := r.Path(field)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", field, err)
	}
	return os.Rename(tmp, path)
}

// yRange расширяет вырожденный диапазон, иначе go-chart не может построить ось
func yRange(ys []float64) *chart.ContinuousRange {
	lo, hi := ys[0], ys[0]
	for _, y := range ys[1:] {
		if y < lo {
			lo = y
		}
		if y > hi {
			hi = y
		}
	}
	if hi > lo {
		return &chart.ContinuousRange{Min: lo, Max: hi}
	}
	return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
}

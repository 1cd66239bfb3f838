package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ChartType controls how the series of a chart are laid out relative to one another.
type ChartType int

const (
	ChartTypeOverlay ChartType = iota
	ChartTypeStacked
)

var chartTypeNames = map[ChartType]string{
	ChartTypeOverlay: "overlay",
	ChartTypeStacked: "stacked",
}

func (t ChartType) String() string {
	if name, ok := chartTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ChartType(%d)", int(t))
}

func (t ChartType) IsValid() bool {
	_, ok := chartTypeNames[t]
	return ok
}

func (t ChartType) MarshalText() ([]byte, error) {
	if _, ok := chartTypeNames[t]; !ok {
		return nil, errors.Errorf("unknown chart type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ChartType) UnmarshalText(text []byte) error {
	for k, v := range chartTypeNames {
		if strings.EqualFold(v, string(text)) {
			*t = k
			return nil
		}
	}
	return errors.Errorf("unknown chart type %q", string(text))
}

// SeriesType controls how the points of a series are drawn.
type SeriesType int

const (
	SeriesTypeLine SeriesType = iota
	SeriesTypeScatter
	SeriesTypeCandle
	SeriesTypeBar
	SeriesTypeFlag
	SeriesTypeStackedArea
	SeriesTypePie
	SeriesTypeTreemap
)

var seriesTypeNames = map[SeriesType]string{
	SeriesTypeLine:        "line",
	SeriesTypeScatter:     "scatter",
	SeriesTypeCandle:      "candle",
	SeriesTypeBar:         "bar",
	SeriesTypeFlag:        "flag",
	SeriesTypeStackedArea: "stackedArea",
	SeriesTypePie:         "pie",
	SeriesTypeTreemap:     "treemap",
}

func (t SeriesType) String() string {
	if name, ok := seriesTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SeriesType(%d)", int(t))
}

func (t SeriesType) IsValid() bool {
	_, ok := seriesTypeNames[t]
	return ok
}

func (t SeriesType) MarshalText() ([]byte, error) {
	if _, ok := seriesTypeNames[t]; !ok {
		return nil, errors.Errorf("unknown series type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *SeriesType) UnmarshalText(text []byte) error {
	for k, v := range seriesTypeNames {
		if strings.EqualFold(v, string(text)) {
			*t = k
			return nil
		}
	}
	return errors.Errorf("unknown series type %q", string(text))
}

// Point is a single time-value sample.
type Point struct {
	Time  time.Time
	Value decimal.Decimal
}

func NewPoint(t time.Time, value decimal.Decimal) Point {
	return Point{Time: t, Value: value}
}

type wirePoint struct {
	X int64           `json:"x"`
	Y decimal.Decimal `json:"y"`
}

// MarshalJSON writes the point as {"x": <unix seconds>, "y": <number>}.
func (p Point) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"x":%d,"y":%s}`, p.Time.Unix(), p.Value.String())), nil
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var w wirePoint
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.WithStack(err)
	}
	p.Time = time.Unix(w.X, 0).UTC()
	p.Value = w.Y
	return nil
}

// Series is a named, ordered sequence of points within a chart.
type Series struct {
	Name   string     `json:"name"`
	Type   SeriesType `json:"seriesType"`
	Unit   string     `json:"unit,omitempty"`
	Index  int        `json:"index"`
	Points []Point    `json:"values"`
}

func NewSeries(name string, seriesType SeriesType) *Series {
	return &Series{Name: name, Type: seriesType}
}

// AddPoint appends a point. Ordering is the producer's responsibility.
func (s *Series) AddPoint(t time.Time, value decimal.Decimal) {
	s.Points = append(s.Points, NewPoint(t, value))
}

// CloneEmpty returns a copy of the series metadata with no points.
func (s *Series) CloneEmpty() *Series {
	return &Series{Name: s.Name, Type: s.Type, Unit: s.Unit, Index: s.Index}
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	c := s.CloneEmpty()
	c.Points = make([]Point, len(s.Points))
	copy(c.Points, s.Points)
	return c
}

// Chart is a named collection of series.
type Chart struct {
	Name   string             `json:"name"`
	Type   ChartType          `json:"chartType"`
	Series map[string]*Series `json:"series"`
}

func NewChart(name string, chartType ChartType) *Chart {
	return &Chart{Name: name, Type: chartType, Series: map[string]*Series{}}
}

// AddSeries adds series to the chart, replacing any series with the same name.
func (c *Chart) AddSeries(series *Series) {
	c.Series[series.Name] = series
}

// CloneEmpty returns a copy of the chart metadata with no series.
func (c *Chart) CloneEmpty() *Chart {
	return NewChart(c.Name, c.Type)
}

// Clone returns a deep copy of the chart.
func (c *Chart) Clone() *Chart {
	clone := c.CloneEmpty()
	for name, series := range c.Series {
		clone.Series[name] = series.Clone()
	}
	return clone
}

// PointCount returns the total number of points across every series.
func (c *Chart) PointCount() int {
	n := 0
	for _, series := range c.Series {
		n += len(series.Points)
	}
	return n
}

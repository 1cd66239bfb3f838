package charts

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/stringinterner"
	"github.com/vladiki/Lean/internal/results/model"
)

// Aggregate is the chart state shared between the producing simulation and the dispatcher.
// Implementations guard their state internally; every method returns copies so that
// callers never touch shared state while doing I/O.
type Aggregate interface {
	// Sample appends a single point, creating the chart and series if they do not yet exist.
	// A point with an unknown chart or series type is rejected with ErrInvalidArgument.
	Sample(chartName string, chartType model.ChartType, seriesName string, seriesType model.SeriesType, t time.Time, value decimal.Decimal) error
	// SampleRange merges externally built chart fragments. Charts and series with an unknown type are
	// skipped and reported in the returned error; the rest are merged.
	SampleRange(updates []*model.Chart) error
	// ExtractDeltas returns the points appended since the previous call. Charts and series
	// without new points are omitted.
	ExtractDeltas() map[string]*model.Chart
	// Snapshot returns a deep copy of everything sampled so far.
	Snapshot() map[string]*model.Chart
}

const defaultInternerSize = 1024

// Store is the in-memory Aggregate used for a single run.
type Store struct {
	mu     sync.Mutex
	charts map[string]*model.Chart
	// Number of points of each series already returned by ExtractDeltas, keyed by chart then series.
	cursors  map[string]map[string]int
	interner *stringinterner.StringInterner
}

func NewStore() *Store {
	return &Store{
		charts:   map[string]*model.Chart{},
		cursors:  map[string]map[string]int{},
		interner: stringinterner.New(defaultInternerSize),
	}
}

func (s *Store) Sample(chartName string, chartType model.ChartType, seriesName string, seriesType model.SeriesType, t time.Time, value decimal.Decimal) error {
	if err := validateTypes(chartName, chartType, seriesName, seriesType); err != nil {
		return err
	}
	chartName = s.interner.Intern(chartName)
	seriesName = s.interner.Intern(seriesName)

	s.mu.Lock()
	defer s.mu.Unlock()
	chart := s.getOrCreateChart(chartName, chartType)
	series, ok := chart.Series[seriesName]
	if !ok {
		series = model.NewSeries(seriesName, seriesType)
		series.Index = len(chart.Series)
		chart.AddSeries(series)
	}
	series.AddPoint(t, value)
	return nil
}

func (s *Store) SampleRange(updates []*model.Chart) error {
	var result *multierror.Error
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		if update == nil {
			continue
		}
		if !update.Type.IsValid() {
			result = multierror.Append(result, invalidType("chartType", update.Type, update.Name))
			continue
		}
		chart := s.getOrCreateChart(s.interner.Intern(update.Name), update.Type)
		for _, updateSeries := range update.Series {
			if updateSeries == nil {
				continue
			}
			if !updateSeries.Type.IsValid() {
				result = multierror.Append(result, invalidType("seriesType", updateSeries.Type, update.Name+"/"+updateSeries.Name))
				continue
			}
			series, ok := chart.Series[updateSeries.Name]
			if !ok {
				series = updateSeries.CloneEmpty()
				series.Name = s.interner.Intern(series.Name)
				chart.AddSeries(series)
			}
			series.Points = append(series.Points, updateSeries.Points...)
		}
	}
	return result.ErrorOrNil()
}

func (s *Store) ExtractDeltas() map[string]*model.Chart {
	s.mu.Lock()
	defer s.mu.Unlock()
	deltas := make(map[string]*model.Chart)
	for name, chart := range s.charts {
		cursors := s.cursors[name]
		var delta *model.Chart
		for seriesName, series := range chart.Series {
			cursor := cursors[seriesName]
			if cursor >= len(series.Points) {
				continue
			}
			deltaSeries := series.CloneEmpty()
			deltaSeries.Points = make([]model.Point, len(series.Points)-cursor)
			copy(deltaSeries.Points, series.Points[cursor:])
			cursors[seriesName] = len(series.Points)
			if delta == nil {
				delta = chart.CloneEmpty()
			}
			delta.AddSeries(deltaSeries)
		}
		if delta != nil {
			deltas[name] = delta
		}
	}
	return deltas
}

func (s *Store) Snapshot() map[string]*model.Chart {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]*model.Chart, len(s.charts))
	for name, chart := range s.charts {
		snapshot[name] = chart.Clone()
	}
	return snapshot
}

func (s *Store) getOrCreateChart(name string, chartType model.ChartType) *model.Chart {
	chart, ok := s.charts[name]
	if !ok {
		chart = model.NewChart(name, chartType)
		s.charts[name] = chart
		s.cursors[name] = map[string]int{}
	}
	return chart
}

func validateTypes(chartName string, chartType model.ChartType, seriesName string, seriesType model.SeriesType) error {
	if !chartType.IsValid() {
		return invalidType("chartType", chartType, chartName)
	}
	if !seriesType.IsValid() {
		return invalidType("seriesType", seriesType, chartName+"/"+seriesName)
	}
	return nil
}

func invalidType(field string, value fmt.Stringer, name string) error {
	return errors.WithStack(&resultserrors.ErrInvalidArgument{
		Name:    field,
		Value:   value,
		Message: fmt.Sprintf("unknown type for %q", name),
	})
}

package service

import (
	"context"
	"strings"

	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/okian/storymap/pkg/logger"
	"github.com/okian/storymap/pkg/metrics"
)

// FilterController binds the year selector to the story source. It is
// driven only from the session loop and holds no lock.
type FilterController struct {
	engine   mapengine.Engine
	selector mapengine.Selector
	sourceID string
	logger   logger.Logger

	collection *dataset.Collection
	years      []string
	selected   string
	failed     error
}

// NewFilterController creates a controller that replaces the data of
// sourceID whenever the selected year changes.
func NewFilterController(engine mapengine.Engine, selector mapengine.Selector, sourceID string, lg logger.Logger) *FilterController {
	if lg == nil {
		lg = logger.Nop()
	}
	return &FilterController{
		engine:   engine,
		selector: selector,
		sourceID: sourceID,
		logger:   lg.Named("filter"),
		selected: dataset.AllYears,
	}
}

// HandleLoaded populates the selector with the dataset's years and applies
// the default filter.
func (f *FilterController) HandleLoaded(ctx context.Context, c *dataset.Collection) {
	if c == nil {
		f.HandleLoadFailed(ctx, dataset.ErrParse)
		return
	}

	f.collection = c
	f.years = dataset.Years(c)
	f.failed = nil

	if err := f.selector.ReplaceOptions(ctx, f.years); err != nil {
		f.logger.Warn(ctx, "replace year options failed", logger.Error(err))
	}

	f.selected = dataset.AllYears
	f.apply(ctx)

	f.logger.Info(ctx, "dataset ready",
		logger.Int("features", len(c.Features)),
		logger.Int("years", len(f.years)),
	)
}

// HandleLoadFailed leaves the selector inert. The map keeps rendering
// whatever its source fetched on its own.
func (f *FilterController) HandleLoadFailed(ctx context.Context, err error) {
	f.failed = err
	f.logger.Warn(ctx, "dataset unavailable, year filter disabled", logger.Error(err))
}

// HandleChange applies the selector value. Before the dataset has loaded
// the change is ignored.
func (f *FilterController) HandleChange(ctx context.Context, value string) {
	if f.collection == nil {
		f.logger.Debug(ctx, "ignoring filter change before load", logger.String("value", value))
		return
	}

	value = strings.TrimSpace(value)
	if value == "" {
		value = dataset.AllYears
	}
	f.selected = value
	f.apply(ctx)
}

func (f *FilterController) apply(ctx context.Context) {
	view := dataset.FilterByYear(f.collection, f.selected)

	if err := f.engine.SetData(ctx, f.sourceID, view); err != nil {
		f.logger.Warn(ctx, "set source data failed",
			logger.String("year", f.selected),
			logger.Error(err),
		)
		return
	}

	kind := "year"
	if f.selected == dataset.AllYears {
		kind = dataset.AllYears
	}
	metrics.RecordFilterApplied(kind, len(view.Features))
	f.logger.Debug(ctx, "filter applied",
		logger.String("year", f.selected),
		logger.Int("features", len(view.Features)),
	)
}

// Loaded reports whether the dataset has been delivered.
func (f *FilterController) Loaded() bool { return f.collection != nil }

// Selected returns the active year, or dataset.AllYears.
func (f *FilterController) Selected() string { return f.selected }

// Years returns the options shown in the selector after "All".
func (f *FilterController) Years() []string { return append([]string(nil), f.years...) }

// Err returns the load failure, if any.
func (f *FilterController) Err() error { return f.failed }

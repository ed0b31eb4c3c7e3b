// Package repository memoizes the story dataset for the lifetime of the process.
package repository

import (
	"context"

	"github.com/okian/storymap/internal/domain/dataset"
)

// Store provides access to the loaded story collection and its derived views.
type Store interface {
	// Put records the loaded collection. It succeeds at most once.
	Put(ctx context.Context, c *dataset.Collection) error
	// Fail records that loading failed. Later reads return err.
	Fail(ctx context.Context, err error) error

	// Wait blocks until the dataset is loaded or has failed.
	Wait(ctx context.Context) (*dataset.Collection, error)
	// Get returns the collection, ErrNotLoaded while pending, or the load error.
	Get(ctx context.Context) (*dataset.Collection, error)

	// Years returns the memoized year set.
	Years(ctx context.Context) ([]string, error)
	// Filtered returns the (memoized) view for a year, or the full
	// collection for dataset.AllYears.
	Filtered(ctx context.Context, year string) (*dataset.Collection, error)

	// Count returns the number of stories, 0 until loaded.
	Count(ctx context.Context) int
}

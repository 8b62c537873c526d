package directory

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=entity.go Source

// ErrDirectoryFetch marks every failure to obtain a usable entity directory
var ErrDirectoryFetch = errors.New("directory fetch failed")

// Source is an interface with methods to fetch the entity universe
type Source interface {
	// FetchEntities returns every entity in the directory, listed or not
	FetchEntities(ctx context.Context) ([]Entity, error)
}

// Entity is one company in the directory
type Entity struct {
	// Code is the unique external identity assigned by the disclosure service
	Code string `json:"code"`

	Name string `json:"name"`

	// StockCode is the trading code; blank for unlisted companies
	StockCode string `json:"stockCode,omitempty"`

	ModifiedAt time.Time `json:"modifiedAt,omitzero"`

	// Rank is the position assigned by the ingestion ranking; zero until ranked
	Rank int `json:"rank,omitempty"`
}

// Listed reports whether the entity carries a non-blank trading code
func (e Entity) Listed() bool {
	return strings.TrimSpace(e.StockCode) != ""
}

// ListedOnly returns the entities that carry a trading code, preserving order
func ListedOnly(entities []Entity) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Listed() {
			out = append(out, e)
		}
	}
	return out
}

// fetchError marks cause, or a new error when cause is nil, as ErrDirectoryFetch
func fetchError(cause error, format string, args ...any) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), ErrDirectoryFetch)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrDirectoryFetch)
}

// Package pagination drives multi-page provider fetches with guaranteed termination.
package pagination

import (
	"context"
	"errors"

	"github.com/bobmcallan/provsync/internal/common"
)

// DefaultPageCeiling bounds the number of page requests per walk.
const DefaultPageCeiling = 100

var (
	// ErrPageLimitExceeded reports that the walk hit the page ceiling with more pages pending.
	ErrPageLimitExceeded = errors.New("pagination limit exceeded")

	// ErrStuckCursor reports that the provider returned the cursor it was just given.
	ErrStuckCursor = errors.New("pagination cursor did not advance")
)

// Page is one provider response. An empty Next ends the walk.
type Page[T any] struct {
	Items []T
	Next  string
}

// FetchFunc fetches the page at cursor. The first call receives "".
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Result is the outcome of a walk. Stopped is ErrPageLimitExceeded or
// ErrStuckCursor when the walk was cut short, nil when it ran to the end.
type Result[T any] struct {
	Items   []T
	Pages   int
	Stopped error
}

// Truncated reports whether the walk ended before the provider's last page.
func (r Result[T]) Truncated() bool {
	return r.Stopped != nil
}

// Walker holds the page ceiling and logger shared by walks.
type Walker struct {
	ceiling int
	logger  *common.Logger
}

// NewWalker creates a walker. A non-positive ceiling uses DefaultPageCeiling.
func NewWalker(ceiling int, logger *common.Logger) *Walker {
	if ceiling <= 0 {
		ceiling = DefaultPageCeiling
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Walker{ceiling: ceiling, logger: logger}
}

// Ceiling returns the maximum number of pages a walk requests.
func (w *Walker) Ceiling() int {
	return w.ceiling
}

// Walk fetches pages until the provider signals the end, the ceiling is
// reached or the cursor stops advancing. The ceiling and stuck cursor cases
// are logged and reported through Result.Stopped with a nil error. A fetch
// error returns the items accumulated so far with that error.
func Walk[T any](ctx context.Context, w *Walker, name string, fetch FetchFunc[T]) (Result[T], error) {
	var res Result[T]
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := fetch(ctx, cursor)
		if err != nil {
			return res, err
		}
		res.Pages++
		res.Items = append(res.Items, page.Items...)

		if page.Next == "" {
			return res, nil
		}

		if page.Next == cursor {
			w.logger.Error().
				Str("walk", name).
				Str("cursor", cursor).
				Int("pages", res.Pages).
				Int("items", len(res.Items)).
				Msg("Pagination aborted: provider repeated the same cursor")
			res.Stopped = ErrStuckCursor
			return res, nil
		}

		if res.Pages >= w.ceiling {
			w.logger.Error().
				Str("walk", name).
				Int("ceiling", w.ceiling).
				Int("items", len(res.Items)).
				Msg("Pagination aborted: page ceiling reached")
			res.Stopped = ErrPageLimitExceeded
			return res, nil
		}

		cursor = page.Next
	}
}

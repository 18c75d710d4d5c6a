package pagination

import (
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/stoneplatforms/reviewmycoach/pkg/errors"
)

// Defaults applied when the caller sends no limit.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Limits bounds a "newest N" query.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns the bounds used by list endpoints.
func DefaultLimits() Limits {
	return Limits{Default: DefaultLimit, Max: MaxLimit}
}

// FromRequest reads the ?limit= query parameter. A missing value yields the
// default, values above the maximum are clamped, and anything that is not a
// positive integer is an InvalidInput error.
func (l Limits) FromRequest(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return l.Default, nil
	}
	return l.Parse(raw)
}

// Parse applies the same rules as FromRequest to a raw string.
func (l Limits) Parse(raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, apperrors.InvalidInput(fmt.Sprintf("limit must be a positive integer, got %q", raw))
	}
	if v > l.Max {
		return l.Max, nil
	}
	return v, nil
}

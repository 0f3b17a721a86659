// Package pagination parses page/limit query parameters for list endpoints.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/framecraft/api/internal/domain"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var (
	ErrInvalidPage  = errors.New("pagination: invalid page")
	ErrInvalidLimit = errors.New("pagination: invalid limit")
)

// Options override the defaults for one endpoint.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Parse reads page (1-based) and limit. Limits above the maximum are clamped rather than
// rejected.
func Parse(values url.Values, opts Options) (domain.PageRequest, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	defaultLimit := opts.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	defaultLimit = min(defaultLimit, maxLimit)

	page, err := positiveInt(values.Get("page"), 1)
	if err != nil {
		return domain.PageRequest{}, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	limit, err := positiveInt(values.Get("limit"), defaultLimit)
	if err != nil {
		return domain.PageRequest{}, fmt.Errorf("%w: %v", ErrInvalidLimit, err)
	}
	return domain.PageRequest{Page: page, Limit: min(limit, maxLimit)}, nil
}

func positiveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if value <= 0 {
		return 0, errors.New("must be greater than zero")
	}
	return value, nil
}

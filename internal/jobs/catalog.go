package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// ErrUnknownKind is returned for a job kind that has no factory.
var ErrUnknownKind = errors.New("unknown job kind")

// Factory builds a job from JSON parameters.
type Factory func(params json.RawMessage) (domain.Job, error)

// Catalog maps job kinds to factories.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// DefaultCatalog knows the built-in job kinds.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register("primes", newPrimeFinderFromParams)
	c.Register("countdown", newCountdownFromParams)
	return c
}

// Register adds or replaces a factory.
func (c *Catalog) Register(kind string, f Factory) {
	c.factories[kind] = f
}

// Kinds returns the registered kinds, sorted.
func (c *Catalog) Kinds() []string {
	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New builds a job of the given kind.
func (c *Catalog) New(kind string, params json.RawMessage) (domain.Job, error) {
	f, ok := c.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	job, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("build %s job: %w", kind, err)
	}
	return job, nil
}

type primeParams struct {
	Limit int `json:"limit"`
}

func newPrimeFinderFromParams(raw json.RawMessage) (domain.Job, error) {
	p := primeParams{Limit: 100_000}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Limit < 2 || p.Limit > 50_000_000 {
		return nil, fmt.Errorf("limit must be between 2 and 50000000, got %d", p.Limit)
	}
	return NewPrimeFinder(p.Limit), nil
}

type countdownParams struct {
	Steps    int    `json:"steps"`
	Period   string `json:"period"`
	Shrink   string `json:"shrink"`
	MinDelay string `json:"min_period"`
}

func newCountdownFromParams(raw json.RawMessage) (domain.Job, error) {
	p := countdownParams{Steps: 5, Period: "1s", Shrink: "0s", MinDelay: "0s"}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Steps < 1 {
		return nil, fmt.Errorf("steps must be positive, got %d", p.Steps)
	}

	var durations [3]time.Duration
	for i, s := range []string{p.Period, p.Shrink, p.MinDelay} {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", s, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("duration %q must not be negative", s)
		}
		durations[i] = d
	}
	return NewCountdown(p.Steps, durations[0], durations[1], durations[2]), nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

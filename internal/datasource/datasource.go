// Package datasource holds the named database handles questions are answered against.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nldbquery/nldbquery/internal/schema"
)

// PrimaryName is the handle used when a request does not name one.
const PrimaryName = "primary"

var (
	ErrNoHandlers    = errors.New("no handlers configured")
	ErrUnknownSource = errors.New("unknown data source")
)

type Rows struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// Plan is a dialect-specific execution plan. Document plans (JSON or XML) are
// carried in Raw; tabular plans in Columns and Rows.
type Plan struct {
	Dialect string   `json:"dialect"`
	Format  string   `json:"format"`
	Raw     string   `json:"raw,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Rows    [][]any  `json:"rows,omitempty"`
}

type Info struct {
	Name    string `json:"name"`
	Dialect string `json:"driver"`
	URL     string `json:"url"`
}

// Source executes read-only SQL and reports the schema of one database.
type Source interface {
	Info() Info
	Execute(ctx context.Context, sql string, maxRows int) (Rows, error)
	DiscoverSchema(ctx context.Context) (schema.Snapshot, error)
	Explain(ctx context.Context, sql string) (Plan, error)
	Ping(ctx context.Context) error
	Close() error
}

// Registry resolves sources by name. Registration order is preserved.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

func (r *Registry) Register(source Source) error {
	if source == nil {
		return fmt.Errorf("source is required")
	}
	name := source.Info().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("source name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("data source %q already registered", name)
	}
	r.sources[name] = source
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the named source. An empty name falls back to the primary
// source, then to the first registered one.
func (r *Registry) Resolve(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.TrimSpace(name)
	if name != "" {
		source, ok := r.sources[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		return source, nil
	}
	if source, ok := r.sources[PrimaryName]; ok {
		return source, nil
	}
	if len(r.order) == 0 {
		return nil, ErrNoHandlers
	}
	return r.sources[r.order[0]], nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

// Ping checks every registered source and fails on the first unreachable one.
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ErrNoHandlers
	}
	for _, name := range r.order {
		if err := r.sources[name].Ping(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", name, err)
		}
	}
	return nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range r.order {
		if err := r.sources[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RedactURL masks the password of a connection URL. Strings that are not URLs
// with credentials are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}
	return strings.Replace(u.Redacted(), ":xxxxx@", ":***@", 1)
}

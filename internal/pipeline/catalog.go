package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nldbquery/nldbquery/internal/datasource"
	"github.com/nldbquery/nldbquery/internal/insight"
	"github.com/nldbquery/nldbquery/internal/observability"
	"github.com/nldbquery/nldbquery/internal/safety"
	"github.com/nldbquery/nldbquery/internal/schema"
)

// schemaCache keeps one discovered snapshot per data source.
type schemaCache struct {
	mu        sync.RWMutex
	snapshots map[string]schema.Snapshot
}

func newSchemaCache() *schemaCache {
	return &schemaCache{snapshots: map[string]schema.Snapshot{}}
}

func (c *schemaCache) get(name string) (schema.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot, ok := c.snapshots[name]
	return snapshot, ok
}

func (c *schemaCache) put(name string, snapshot schema.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[name] = snapshot
}

func (c *schemaCache) drop(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, name)
}

func (s *Service) snapshot(ctx context.Context, source datasource.Source, refresh bool) (schema.Snapshot, error) {
	name := source.Info().Name
	if !refresh {
		if snapshot, ok := s.schemas.get(name); ok {
			return snapshot, nil
		}
	}
	snapshot, err := source.DiscoverSchema(ctx)
	observability.ObserveSchemaDiscovery(name, len(snapshot.Tables), err)
	if err != nil {
		return schema.Snapshot{}, err
	}
	s.schemas.put(name, snapshot)
	s.logger.InfoContext(ctx, "schema discovered",
		slog.String("database", name),
		slog.Int("tables", len(snapshot.Tables)),
		slog.Int("relationships", len(snapshot.Relationships)),
	)
	return snapshot, nil
}

// Source resolves a data source by name; an empty name selects the default.
func (s *Service) Source(name string) (datasource.Source, error) {
	if name != "" {
		if err := safety.ValidateSourceName(name); err != nil {
			return nil, err
		}
	}
	return s.registry.Resolve(name)
}

func (s *Service) Sources() []string {
	return s.registry.Names()
}

// Schema returns the cached snapshot of a data source, discovering it on first
// use or when refresh is set.
func (s *Service) Schema(ctx context.Context, name string, refresh bool) (schema.Snapshot, error) {
	source, err := s.Source(name)
	if err != nil {
		return schema.Snapshot{}, err
	}
	return s.snapshot(ctx, source, refresh)
}

// RefreshSchema drops the cached snapshot so the next use rediscovers it.
func (s *Service) RefreshSchema(name string) error {
	source, err := s.Source(name)
	if err != nil {
		return err
	}
	s.schemas.drop(source.Info().Name)
	return nil
}

// WarmSchemas discovers every registered source, logging failures instead of
// returning them.
func (s *Service) WarmSchemas(ctx context.Context) {
	for _, name := range s.registry.Names() {
		if _, err := s.Schema(ctx, name, false); err != nil {
			s.logger.WarnContext(ctx, "schema discovery failed", slog.String("database", name), slog.Any("error", err))
		}
	}
}

type DatabaseInfo struct {
	Name          string    `json:"name"`
	Driver        string    `json:"driver"`
	URL           string    `json:"url"`
	Tables        int       `json:"tables"`
	Relationships int       `json:"relationships"`
	Indexes       int       `json:"indexes"`
	TableNames    []string  `json:"table_names"`
	LastUpdated   time.Time `json:"last_updated"`
}

func (s *Service) DatabaseInfo(ctx context.Context, name string) (DatabaseInfo, error) {
	source, err := s.Source(name)
	if err != nil {
		return DatabaseInfo{}, err
	}
	snapshot, err := s.snapshot(ctx, source, false)
	if err != nil {
		return DatabaseInfo{}, err
	}
	info := source.Info()
	return DatabaseInfo{
		Name:          info.Name,
		Driver:        info.Dialect,
		URL:           info.URL,
		Tables:        len(snapshot.Tables),
		Relationships: len(snapshot.Relationships),
		Indexes:       len(snapshot.Indexes),
		TableNames:    snapshot.TableNames(),
		LastUpdated:   snapshot.DiscoveredAt,
	}, nil
}

type Execution struct {
	SQL               string           `json:"sql_query"`
	Database          string           `json:"database"`
	Columns           []string         `json:"columns"`
	Results           []map[string]any `json:"results"`
	RowCount          int              `json:"row_count"`
	Truncated         bool             `json:"truncated"`
	ExecutionTime     float64          `json:"execution_time"`
	FormattedResponse string           `json:"formatted_response,omitempty"`
}

// ExecuteSQL runs caller-supplied SQL after it passes the safety gate.
func (s *Service) ExecuteSQL(ctx context.Context, name, sql string, format bool) (Execution, error) {
	if err := gate(sql); err != nil {
		return Execution{}, err
	}
	source, err := s.Source(name)
	if err != nil {
		return Execution{}, err
	}
	rows, err := s.execute(ctx, source, sql)
	if err != nil {
		return Execution{}, err
	}
	out := Execution{
		SQL:           sql,
		Database:      source.Info().Name,
		Columns:       rows.Columns,
		Results:       records(rows.Columns, rows.Rows),
		RowCount:      len(rows.Rows),
		Truncated:     rows.Truncated,
		ExecutionTime: rows.Duration.Seconds(),
	}
	if format {
		out.FormattedResponse = s.formatter.Format(insight.Result{
			Question:      sql,
			SQL:           sql,
			Confidence:    1,
			Columns:       rows.Columns,
			Rows:          rows.Rows,
			RowCount:      len(rows.Rows),
			ExecutionTime: rows.Duration,
		})
	}
	return out, nil
}

// ExplainSQL returns the data source's plan for SQL that passes the safety gate.
func (s *Service) ExplainSQL(ctx context.Context, name, sql string) (datasource.Plan, error) {
	if err := gate(sql); err != nil {
		return datasource.Plan{}, err
	}
	source, err := s.Source(name)
	if err != nil {
		return datasource.Plan{}, err
	}
	explainCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return source.Explain(explainCtx, sql)
}

func (s *Service) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func gate(sql string) error {
	validation := safety.ValidateSQL(sql)
	if validation.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsafeSQL, strings.Join(validation.Errors, "; "))
}

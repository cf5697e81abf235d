package models

import (
	"fmt"
	"strings"
)

// TimeGranularity is the grain of a time dimension in a group-by.
type TimeGranularity string

const (
	GrainHour    TimeGranularity = "HOUR"
	GrainDay     TimeGranularity = "DAY"
	GrainWeek    TimeGranularity = "WEEK"
	GrainMonth   TimeGranularity = "MONTH"
	GrainQuarter TimeGranularity = "QUARTER"
	GrainYear    TimeGranularity = "YEAR"
)

// MetricInput names a metric to query.
type MetricInput struct {
	Name string `json:"name"`
}

// GroupByInput names a dimension to group by, with an optional time grain.
type GroupByInput struct {
	Name  string          `json:"name"`
	Grain TimeGranularity `json:"grain,omitempty"`
}

// QualifiedName returns name__grain for time dimensions, the bare name otherwise.
func (g GroupByInput) QualifiedName() string {
	if g.Grain != "" {
		return g.Name + "__" + strings.ToLower(string(g.Grain))
	}
	return g.Name
}

// WhereInput is one opaque filter predicate, rendered as the backend's
// templated SQL (e.g. "{{ Dimension('member__email') }} = 'a@b.com'").
type WhereInput struct {
	SQL string `json:"sql"`
}

// OrderByInput orders by exactly one of a metric or a group-by.
type OrderByInput struct {
	Metric     *MetricInput  `json:"metric,omitempty"`
	GroupBy    *GroupByInput `json:"groupBy,omitempty"`
	Descending bool          `json:"descending,omitempty"`
}

// Validate enforces the one-of constraint on OrderByInput.
func (o OrderByInput) Validate() error {
	if o.Metric == nil && o.GroupBy == nil {
		return fmt.Errorf("orderBy requires either metric or groupBy")
	}
	if o.Metric != nil && o.GroupBy != nil {
		return fmt.Errorf("orderBy allows only one of metric or groupBy")
	}
	return nil
}

// QueryRequest is one query against the metrics backend. Constructed per
// call, consumed once by the executor, never persisted.
type QueryRequest struct {
	Metrics []MetricInput  `json:"metrics"`
	GroupBy []GroupByInput `json:"groupBy,omitempty"`
	Where   []WhereInput   `json:"where,omitempty"`
	OrderBy []OrderByInput `json:"orderBy,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

// Validate checks the request is executable.
func (q *QueryRequest) Validate() error {
	if len(q.Metrics) == 0 {
		return fmt.Errorf("query requires at least one metric")
	}
	for _, m := range q.Metrics {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("metric name must not be empty")
		}
	}
	for _, o := range q.OrderBy {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MetricNames returns the queried metric names in order.
func (q *QueryRequest) MetricNames() []string {
	names := make([]string, len(q.Metrics))
	for i, m := range q.Metrics {
		names[i] = m.Name
	}
	return names
}

// DimensionNames returns the grouped dimension names, time dimensions
// qualified with their grain.
func (q *QueryRequest) DimensionNames() []string {
	names := make([]string, len(q.GroupBy))
	for i, g := range q.GroupBy {
		names[i] = g.QualifiedName()
	}
	return names
}

// FilterClauses returns the rendered filter predicates.
func (q *QueryRequest) FilterClauses() []string {
	clauses := make([]string, len(q.Where))
	for i, w := range q.Where {
		clauses[i] = w.SQL
	}
	return clauses
}

// Variables renders the GraphQL variables for the createQuery mutation,
// omitting unused inputs so the mutation arguments stay minimal.
func (q *QueryRequest) Variables() map[string]any {
	vars := map[string]any{
		"metrics": q.Metrics,
	}
	if len(q.GroupBy) > 0 {
		vars["groupBy"] = q.GroupBy
	}
	if len(q.Where) > 0 {
		vars["where"] = q.Where
	}
	if len(q.OrderBy) > 0 {
		vars["orderBy"] = q.OrderBy
	}
	if q.Limit > 0 {
		vars["limit"] = q.Limit
	}
	return vars
}

package models

// Dimension is one dimension attached to a metric in the backend catalog.
type Dimension struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Metric is one entry in the backend's metric catalog.
type Metric struct {
	Name        string      `json:"name"`
	Type        string      `json:"type,omitempty"`
	Description string      `json:"description,omitempty"`
	Dimensions  []Dimension `json:"dimensions"`
}

// DimensionNames flattens the metric's dimension list to names.
func (m *Metric) DimensionNames() []string {
	names := make([]string, len(m.Dimensions))
	for i, d := range m.Dimensions {
		names[i] = d.Name
	}
	return names
}

// SavedQuery is a backend-defined query that can be replayed through the
// portal's enforcement path.
type SavedQuery struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	QueryParams map[string]any `json:"queryParams,omitempty"`
}

// Package semanticlayer talks to the metrics backend: it owns the active
// tenant connection and submits GraphQL queries, polling them to a terminal
// state.
package semanticlayer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/benefitsai/portal-engine/pkg/apperrors"
	"github.com/benefitsai/portal-engine/pkg/models"
)

// BuildJDBCURL renders the opaque connection descriptor string for a host,
// environment id and service token. Kept in the legacy JDBC shape so
// operator-supplied JDBC_URL overrides and built descriptors parse the same
// way.
func BuildJDBCURL(host, environmentID, token string) string {
	return fmt.Sprintf("jdbc:arrow-flight-sql://%s:443?environmentId=%s&token=%s",
		host, environmentID, token)
}

// ParseJDBCURL converts a JDBC descriptor string into connection attributes.
// Parsing is pure: the same descriptor always yields the same attributes,
// which is what makes the manager's descriptor cache sound.
func ParseJDBCURL(uri string) (*models.ConnAttr, error) {
	trimmed := strings.TrimPrefix(uri, "jdbc:")

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse JDBC URL: %w", err)
	}

	params := make(map[string]string)
	for key, values := range parsed.Query() {
		if len(values) > 0 {
			params[strings.ToLower(key)] = values[0]
		}
	}

	token, ok := params["token"]
	if !ok || token == "" {
		return nil, apperrors.ErrTokenMissing
	}
	delete(params, "token")

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("JDBC URL has no host")
	}

	return &models.ConnAttr{
		Host:       "https://" + host,
		Params:     params,
		AuthHeader: "Bearer " + token,
	}, nil
}

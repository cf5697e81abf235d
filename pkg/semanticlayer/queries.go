package semanticlayer

import (
	"fmt"
	"strings"
)

// GraphQL documents for the semantic layer API. The createQuery mutation is
// rendered per request so its argument list only names the inputs the query
// actually uses.

const metricsQuery = `
query GetMetrics($environmentId: BigInt!) {
  metrics(environmentId: $environmentId) {
    name
    description
    type
    dimensions {
      name
      type
      description
    }
  }
}`

const savedQueriesQuery = `
query GetSavedQueries($environmentId: BigInt!) {
  savedQueries(environmentId: $environmentId) {
    name
    description
    queryParams
  }
}`

const getResultsQuery = `
query GetResults($environmentId: BigInt!, $queryId: ID!) {
  query(environmentId: $environmentId, queryId: $queryId) {
    status
    sql
    error
    jsonResult(encoded: false)
  }
}`

// gqlInputTypes maps createQuery input names to their GraphQL argument types.
var gqlInputTypes = map[string]string{
	"metrics": "[MetricInput!]!",
	"groupBy": "[GroupByInput!]",
	"where":   "[WhereInput!]",
	"orderBy": "[OrderByInput!]",
	"limit":   "Int",
}

// gqlInputOrder keeps rendered argument lists deterministic.
var gqlInputOrder = []string{"metrics", "groupBy", "where", "orderBy", "limit"}

// createQueryDocument renders the createQuery mutation for the given set of
// used input names.
func createQueryDocument(usedInputs map[string]bool) string {
	args := []string{"$environmentId: BigInt!"}
	kwargs := []string{"environmentId: $environmentId"}

	for _, name := range gqlInputOrder {
		if !usedInputs[name] {
			continue
		}
		args = append(args, fmt.Sprintf("$%s: %s", name, gqlInputTypes[name]))
		kwargs = append(kwargs, fmt.Sprintf("%s: $%s", name, name))
	}

	return fmt.Sprintf(`
mutation CreateQuery(%s) {
  createQuery(%s) {
    queryId
  }
}`, strings.Join(args, ", "), strings.Join(kwargs, ",\n    "))
}

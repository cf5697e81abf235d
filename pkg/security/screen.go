package security

import (
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
)

// stringLiteralPattern matches single-quoted literal values inside a
// templated filter clause. Only the literal values are screened: the clause
// skeleton ({{ Dimension(...) }} = ...) is produced by trusted code, while
// the compared values come from users or agents.
var stringLiteralPattern = regexp.MustCompile(`'([^']*)'`)

// InjectionFinding describes one candidate filter value that tripped the
// injection check.
type InjectionFinding struct {
	Clause      string // The full filter clause the value came from
	Value       string // The literal value that failed the check
	Fingerprint string // libinjection fingerprint for pattern analysis
}

// ScreenFilters runs libinjection over the literal values of each candidate
// filter clause. Returns one finding per dirty value; an empty slice means
// all candidates are clean.
func ScreenFilters(clauses []string) []InjectionFinding {
	var findings []InjectionFinding
	for _, clause := range clauses {
		for _, match := range stringLiteralPattern.FindAllStringSubmatch(clause, -1) {
			value := match[1]
			if value == "" {
				continue
			}
			if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
				findings = append(findings, InjectionFinding{
					Clause:      clause,
					Value:       value,
					Fingerprint: string(fingerprint),
				})
			}
		}
	}
	return findings
}

package models

import (
	"strings"

	"github.com/benefitsai/portal-engine/pkg/apperrors"
)

// Principal is the selected member context for a session. It is immutable
// for the lifetime of the session and replaced wholesale on member switch,
// never patched in place.
type Principal struct {
	ID         string `json:"member_id" yaml:"member_id"`
	Email      string `json:"email" yaml:"email"`
	FirstName  string `json:"first_name" yaml:"first_name"`
	LastName   string `json:"last_name" yaml:"last_name"`
	Company    string `json:"company_display" yaml:"company_display"`
	Department string `json:"department" yaml:"department"`
	PlanType   string `json:"plan_type" yaml:"plan_type"`
}

// Validate checks the fields the query path depends on. Email is the stable
// identity attribute every filter and audit entry is keyed by.
func (p *Principal) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return apperrors.ErrMissingEmail
	}
	return nil
}

// DisplayName returns the member's full name for roster listings.
func (p *Principal) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}

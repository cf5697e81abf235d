package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMissingEmail      = errors.New("member has no email address")
	ErrPrincipalNotFound = errors.New("member not found in roster")
	ErrNoCredential      = errors.New("no service token configured for tenant and no fallback token present")
	ErrTokenMissing      = errors.New("token missing from JDBC URL")
	ErrNoSession         = errors.New("no member context selected")
	ErrFilterRejected    = errors.New("candidate filter rejected by injection screening")
)

package registry

import "errors"

// Error taxonomy returned by Client methods, mapped from HTTP status
// codes per spec.md §4.4.
var (
	ErrNetwork    = errors.New("registry: network error")
	ErrAuth       = errors.New("registry: auth error")
	ErrNotFound   = errors.New("registry: not found")
	ErrConflict   = errors.New("registry: conflict")
	ErrValidation = errors.New("registry: validation error")
	ErrServer     = errors.New("registry: server error")
)

func errorForStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 404:
		return ErrNotFound
	case status == 409:
		return ErrConflict
	case status == 400 || status == 422:
		return ErrValidation
	case status >= 500:
		return ErrServer
	default:
		return nil
	}
}

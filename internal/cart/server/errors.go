package server

import (
	"errors"
	"net/http"

	"github.com/cartsync/cart/internal/cart/db"
)

var (
	// ErrUnauthenticated is returned when a request carries no user.
	ErrUnauthenticated = errors.New("missing " + HeaderUser + " header")

	// ErrForbidden is returned when the user is not a member of the group.
	ErrForbidden = errors.New("not a member of this group")

	// ErrBadRequest is wrapped by request validation failures.
	ErrBadRequest = errors.New("bad request")
)

// ErrorResponse is the body of every non-2xx response. Code identifies the
// failure so clients can map it back to an error value.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return ErrBadRequest }

func badRequest(msg string) error { return &requestError{msg: msg} }

// errorCodes maps sentinel errors to wire codes and statuses. Order
// matters: the first match wins.
var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{ErrBadRequest, "bad_request", http.StatusBadRequest},
	{ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{db.ErrGroupNotFound, "group_not_found", http.StatusNotFound},
	{db.ErrNotFound, "item_not_found", http.StatusNotFound},
	{db.ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{db.ErrNotMember, "not_member", http.StatusNotFound},
	{db.ErrAlreadyMember, "already_member", http.StatusConflict},
	{db.ErrOwnerRemoval, "owner_removal", http.StatusConflict},
}

// CodeError returns the error value for a wire code, or nil if the code is
// unknown.
func CodeError(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			status, code = c.status, c.code
			break
		}
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

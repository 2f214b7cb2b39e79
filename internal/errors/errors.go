// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound wraps the missing resource kind and id.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func NewListNotFound(id string) error     { return &ErrNotFound{Kind: "broadcast list", ID: id} }
func NewTemplateNotFound(id string) error { return &ErrNotFound{Kind: "template", ID: id} }
func NewCampaignNotFound(id string) error { return &ErrNotFound{Kind: "campaign", ID: id} }

func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// MemberIssue names one recipient and the declared keys it is missing.
type MemberIssue struct {
	MemberID    string   `json:"member_id"`
	ContactWaID string   `json:"contact_wa_id"`
	MissingKeys []string `json:"missing_keys"`
}

// ValidationError rejects a campaign before any job is created. The
// materialization is all-or-nothing at the list level, so a single
// invalid recipient fails the whole request.
type ValidationError struct {
	Message        string        `json:"message"`
	InvalidKeys    []string      `json:"invalid_keys,omitempty"`
	InvalidMembers []MemberIssue `json:"invalid_members,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.InvalidKeys) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.InvalidKeys, ", "))
	}
	return e.Message
}

func NewValidation(msg string) error {
	return &ValidationError{Message: msg}
}

func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// DispatchError classifies a failed provider call. Transient errors are
// retried under the queue's backoff policy; permanent ones terminate the
// job immediately.
type DispatchError struct {
	Code      string
	Desc      string
	Transient bool
}

func (e *DispatchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s dispatch error %s: %s", kind, e.Code, e.Desc)
	}
	return fmt.Sprintf("%s dispatch error: %s", kind, e.Desc)
}

func NewTransient(desc string) error {
	return &DispatchError{Desc: desc, Transient: true}
}

func NewPermanent(code, desc string) error {
	return &DispatchError{Code: code, Desc: desc}
}

// AsDispatch unwraps a DispatchError; unknown errors are treated as
// transient by callers, so the second return distinguishes the two.
func AsDispatch(err error) (*DispatchError, bool) {
	var de *DispatchError
	ok := errors.As(err, &de)
	return de, ok
}

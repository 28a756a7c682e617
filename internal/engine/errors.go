package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"gather/internal/domain"
	"gather/internal/repo"
)

// Kind classifies engine failures for callers.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"
	KindInvalidState Kind = "INVALID_STATE"
	KindValidation   Kind = "VALIDATION_FAILED"
	KindGateBlocked  Kind = "GATE_BLOCKED"
	KindConcurrent   Kind = "CONCURRENT_CONFLICT"
)

// Validation sub-reasons.
const (
	ReasonImpactTooShort      = "IMPACT_STATEMENT_TOO_SHORT"
	ReasonImpactNoParty       = "IMPACT_STATEMENT_NO_PARTY_REFERENCE"
	ReasonImpactNotUnderstood = "IMPACT_NOT_UNDERSTOOD"
	ReasonMitigationMissing   = "MITIGATION_PLAN_MISSING"
	ReasonMitigationInvalid   = "MITIGATION_PLAN_INVALID"
	ReasonRequired            = "REQUIRED"
	ReasonInvalid             = "INVALID"
)

// Error is the structured failure returned by engine operations.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Field and Reason are set for VALIDATION_FAILED.
	Field  string
	Reason string
	// Blocks is set for GATE_BLOCKED.
	Blocks []domain.GateBlock
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(" (" + e.Reason + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrGateBlocked)
// works for every gate failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrGateBlocked  = &Error{Kind: KindGateBlocked}
	ErrConcurrent   = &Error{Kind: KindConcurrent}
)

// AsError extracts the engine error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func notFound(op, what, id string) error {
	msg := what + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %s not found", what, id)
	}
	return &Error{Kind: KindNotFound, Op: op, Message: msg, Err: repo.ErrNotFound}
}

// lookupErr maps repo.ErrNotFound to NOT_FOUND and passes anything else through.
func lookupErr(op, what, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(op, what, id)
	}
	return fmt.Errorf("%s: load %s %s: %w", op, what, id, err)
}

func invalidState(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

func invalidField(op, field, reason, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func concurrent(op, format string, args ...any) error {
	return &Error{Kind: KindConcurrent, Op: op, Message: fmt.Sprintf(format, args...)}
}

func gateBlocked(op string, blocks []domain.GateBlock) error {
	codes := make([]string, len(blocks))
	for i, b := range blocks {
		codes[i] = b.Code
	}
	return &Error{Kind: KindGateBlocked, Op: op, Blocks: blocks, Message: strings.Join(codes, ", ")}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkOptions runs struct tag validation on operation input and reports the
// first failure as VALIDATION_FAILED.
func checkOptions(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	reason := ReasonInvalid
	if fe.Tag() == "required" {
		reason = ReasonRequired
	}
	return invalidField(op, snake(fe.Field()), reason, "%s failed %s", snake(fe.Field()), fe.Tag())
}

// snake turns a Go field name into its wire name: EventID -> event_id.
func snake(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

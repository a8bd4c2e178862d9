package sql

import (
	"errors"
	"fmt"
)

// Query error kinds. Every error returned by Engine.Execute is a *QueryError
// whose Kind is one of these.
var (
	// ErrSyntaxInvalid is returned when the parser rejects the text.
	ErrSyntaxInvalid = errors.New("syntax invalid")

	// ErrMultiStatement is returned when more than one statement is submitted.
	ErrMultiStatement = errors.New("multiple statements")

	// ErrMutationRejected is returned for any statement that is not a SELECT.
	ErrMutationRejected = errors.New("mutation rejected")

	// ErrUnknownTable is returned when a FROM source or qualifier names no known table.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownColumn is returned when a column reference is not in its table's schema.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrMissingFromClause is returned for a SELECT without FROM.
	ErrMissingFromClause = errors.New("missing FROM clause")

	// ErrSourceUnavailable is returned when fetching a table from the store fails.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrEmptyResult is returned when the query produced no rows.
	ErrEmptyResult = errors.New("empty result")

	// ErrUnsupported is returned for valid SQL outside the supported subset.
	ErrUnsupported = errors.New("unsupported")

	// ErrDuplicateAlias is returned when two FROM sources share an alias.
	ErrDuplicateAlias = errors.New("duplicate alias")
)

var kindNames = map[error]string{
	ErrSyntaxInvalid:     "syntax_invalid",
	ErrMultiStatement:    "multi_statement",
	ErrMutationRejected:  "mutation_rejected",
	ErrUnknownTable:      "unknown_table",
	ErrUnknownColumn:     "unknown_column",
	ErrMissingFromClause: "missing_from_clause",
	ErrSourceUnavailable: "source_unavailable",
	ErrEmptyResult:       "empty_result",
	ErrUnsupported:       "unsupported",
	ErrDuplicateAlias:    "duplicate_alias",
}

// KindName returns a stable snake_case name for the kind of err,
// or "internal" when err is not a query error.
func KindName(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		if name, ok := kindNames[qe.Kind]; ok {
			return name
		}
	}
	return "internal"
}

// QueryError is a classified query failure.
type QueryError struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// Detail is the plain, technical description of the failure.
	Detail string
	// Message is the user-facing text. Set by the engine's MessageProvider.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func newError(kind error, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapError(kind error, err error, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *QueryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *QueryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

package pgwire

import (
	"context"
	"errors"

	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// sqlError is an error with the SQLSTATE code sent in ErrorResponse.
type sqlError struct {
	code    string
	message string
	detail  string
}

func (e *sqlError) Error() string {
	return e.code + ": " + e.message
}

// sqlStates maps query error kinds to SQLSTATE codes.
var sqlStates = map[error]string{
	sql.ErrSyntaxInvalid:     "42601", // syntax_error
	sql.ErrMultiStatement:    "0A000", // feature_not_supported
	sql.ErrMutationRejected:  "25006", // read_only_sql_transaction
	sql.ErrUnknownTable:      "42P01", // undefined_table
	sql.ErrUnknownColumn:     "42703", // undefined_column
	sql.ErrMissingFromClause: "42601",
	sql.ErrSourceUnavailable: "58000", // system_error
	sql.ErrEmptyResult:       "02000", // no_data
	sql.ErrUnsupported:       "0A000",
	sql.ErrDuplicateAlias:    "42712", // duplicate_alias
}

func toSQLError(err error) *sqlError {
	var se *sqlError
	if errors.As(err, &se) {
		return se
	}

	out := &sqlError{code: "XX000", message: err.Error()}
	var qe *sql.QueryError
	if errors.As(err, &qe) {
		if code, ok := sqlStates[qe.Kind]; ok {
			out.code = code
		}
		if qe.Message != "" && qe.Detail != "" {
			out.detail = qe.Detail
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		out.code = "57014" // query_canceled
		out.message = "canceling statement due to user request"
	case errors.Is(err, context.DeadlineExceeded):
		out.code = "57014"
		out.message = "canceling statement due to statement timeout"
	}
	return out
}

func protocolError(message string) *sqlError {
	return &sqlError{code: "08P01", message: message}
}

func parametersError() *sqlError {
	return &sqlError{code: "0A000", message: "query parameters are not supported"}
}

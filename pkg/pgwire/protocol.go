// Package pgwire serves the query engine over the PostgreSQL wire protocol
// (version 3.0), so psql and pgx clients can run read-only queries.
package pgwire

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// ServerVersion is reported to clients in the server_version parameter.
const ServerVersion = "16.0 (portfolioql)"

// Transaction status indicator; the server never opens transactions.
const txnStatusIdle byte = 'I'

// Type OIDs of result columns
const (
	OIDBool   = 16
	OIDText   = 25
	OIDFloat8 = 701
)

// Format codes
const (
	FormatText   int16 = 0
	FormatBinary int16 = 1
)

const maxMessageLength = 1 << 20

// columnOID picks the wire type of a result column from its first non-null
// value. Columns mixing kinds are sent as text.
func columnOID(res *sql.Result, col string) uint32 {
	kind := catalog.KindNull
	for _, row := range res.Rows {
		v := row[col]
		if v.IsNull() {
			continue
		}
		if kind == catalog.KindNull {
			kind = v.Kind
		} else if kind != v.Kind {
			return OIDText
		}
	}
	switch kind {
	case catalog.KindNumber:
		return OIDFloat8
	case catalog.KindBool:
		return OIDBool
	default:
		return OIDText
	}
}

// typeSize is the RowDescription size of a type; -1 means variable.
func typeSize(oid uint32) int16 {
	switch oid {
	case OIDFloat8:
		return 8
	case OIDBool:
		return 1
	default:
		return -1
	}
}

// formatFor returns the result format of column i given Bind's codes.
func formatFor(formats []int16, i int) int16 {
	switch len(formats) {
	case 0:
		return FormatText
	case 1:
		return formats[0]
	default:
		if i < len(formats) {
			return formats[i]
		}
		return FormatText
	}
}

// encodeValue renders v for the wire; nil means NULL.
func encodeValue(v catalog.Value, oid uint32, format int16) []byte {
	if v.IsNull() {
		return nil
	}

	if format == FormatBinary {
		switch {
		case oid == OIDFloat8 && v.Kind == catalog.KindNumber:
			return binary.BigEndian.AppendUint64(nil, math.Float64bits(v.Num))
		case oid == OIDBool && v.Kind == catalog.KindBool:
			if v.Bool {
				return []byte{1}
			}
			return []byte{0}
		}
		return []byte(v.String())
	}

	switch v.Kind {
	case catalog.KindBool:
		if v.Bool {
			return []byte("t")
		}
		return []byte("f")
	case catalog.KindNumber:
		switch {
		case math.IsInf(v.Num, 1):
			return []byte("Infinity")
		case math.IsInf(v.Num, -1):
			return []byte("-Infinity")
		case math.IsNaN(v.Num):
			return []byte("NaN")
		}
		return []byte(strconv.FormatFloat(v.Num, 'f', -1, 64))
	default:
		return []byte(v.String())
	}
}

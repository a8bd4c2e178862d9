package pgwire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

func TestColumnOID(t *testing.T) {
	res := &sql.Result{
		Columns: []string{"n", "s", "b", "mixed", "empty"},
		Rows: []catalog.Row{
			{"n": catalog.Null(), "s": catalog.NewText("a"), "b": catalog.NewBool(true), "mixed": catalog.NewNumber(1), "empty": catalog.Null()},
			{"n": catalog.NewNumber(2), "s": catalog.Null(), "b": catalog.NewBool(false), "mixed": catalog.NewText("x"), "empty": catalog.Null()},
		},
	}

	want := map[string]uint32{"n": OIDFloat8, "s": OIDText, "b": OIDBool, "mixed": OIDText, "empty": OIDText}
	for col, oid := range want {
		if got := columnOID(res, col); got != oid {
			t.Errorf("columnOID(%s) = %d, want %d", col, got, oid)
		}
	}
}

func TestTypeSize(t *testing.T) {
	tests := map[uint32]int16{OIDFloat8: 8, OIDBool: 1, OIDText: -1}
	for oid, want := range tests {
		if got := typeSize(oid); got != want {
			t.Errorf("typeSize(%d) = %d, want %d", oid, got, want)
		}
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name   string
		v      catalog.Value
		oid    uint32
		format int16
		want   []byte
	}{
		{"null", catalog.Null(), OIDText, FormatText, nil},
		{"text number", catalog.NewNumber(78), OIDFloat8, FormatText, []byte("78")},
		{"text fraction", catalog.NewNumber(2.5), OIDFloat8, FormatText, []byte("2.5")},
		{"text infinity", catalog.NewNumber(math.Inf(1)), OIDFloat8, FormatText, []byte("Infinity")},
		{"text bool", catalog.NewBool(true), OIDBool, FormatText, []byte("t")},
		{"binary number", catalog.NewNumber(1.5), OIDFloat8, FormatBinary, binary.BigEndian.AppendUint64(nil, math.Float64bits(1.5))},
		{"binary bool", catalog.NewBool(false), OIDBool, FormatBinary, []byte{0}},
		{"binary text", catalog.NewText("Go"), OIDText, FormatBinary, []byte("Go")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeValue(tt.v, tt.oid, tt.format)
			if !bytes.Equal(got, tt.want) || (got == nil) != (tt.want == nil) {
				t.Errorf("encodeValue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatFor(t *testing.T) {
	if f := formatFor(nil, 3); f != FormatText {
		t.Errorf("no codes: %d", f)
	}
	if f := formatFor([]int16{FormatBinary}, 3); f != FormatBinary {
		t.Errorf("single code applies to all: %d", f)
	}
	if f := formatFor([]int16{FormatText, FormatBinary}, 1); f != FormatBinary {
		t.Errorf("per column: %d", f)
	}
}

func TestIsEmptyQuery(t *testing.T) {
	for _, q := range []string{"", ";", " ; \n", "\t"} {
		if !isEmptyQuery(q) {
			t.Errorf("isEmptyQuery(%q) = false", q)
		}
	}
	if isEmptyQuery("SELECT 1;") {
		t.Error("a statement is not empty")
	}
}

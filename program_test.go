// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package flatjson_test

import (
	"strings"
	"testing"

	"github.com/creachadair/flatjson"
	"github.com/google/go-cmp/cmp"
)

func mustAssemble(t *testing.T, src string) *flatjson.Program {
	t.Helper()
	p, err := flatjson.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return p
}

func TestAssemble(t *testing.T) {
	p := mustAssemble(t, `
# A single column of integers per record.
TopLevelArray
KeyTableHeader 2
KeyTableItem "a" :4
KeyTableItem "b" :5   # "b" holds a list
FillInteger a-data int64
VarLengthList b-offsets int64
FillInteger b-data int64
`)
	if got, want := p.NumInstructions(), 7; got != want {
		t.Errorf("NumInstructions: got %d, want %d", got, want)
	}
	if got, want := p.NumOutputs(), 3; got != want {
		t.Errorf("NumOutputs: got %d, want %d", got, want)
	}
	var names []string
	for i := 0; i < p.NumOutputs(); i++ {
		names = append(names, p.OutputSpec(i).Name)
	}
	want := []string{"a-data", "b-offsets", "b-data"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Output names: (-want, +got)\n%s", diff)
	}
	if p.StrictKeys() {
		t.Error("StrictKeys: got true, want false")
	}
	if got, want := p.MaxDepth(), 3; got != want {
		t.Errorf("MaxDepth: got %d, want %d", got, want)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		desc, src string
	}{
		{"empty program", ""},
		{"unknown instruction", "TopLevelArray\nFrobnicate 3"},
		{"unknown directive", "!frob\nTopLevelArray\nFillInteger x int64"},
		{"missing entry point", "FillInteger x int64"},
		{"missing operands", "TopLevelArray\nFillInteger"},
		{"wrong dtype", "TopLevelArray\nFillInteger x float64"},
		{"redeclared dtype", "TopLevelArray\nVarLengthList x int64\nFillNumber x float64"},
		{"no content", "TopLevelArray\nVarLengthList x int64"},
		{"masked content not scalar", "TopLevelArray\nFillByteMaskedArray m int8\nVarLengthList x int64\nFillInteger y int64"},
		{"unterminated string", `TopLevelArray
KeyTableHeader 1
KeyTableItem "a :3
FillInteger x int64`},
		{"bad jump target", `TopLevelArray
KeyTableHeader 1
KeyTableItem "a" :17
FillInteger x int64`},
		{"jump to non-value", `TopLevelArray
KeyTableHeader 1
KeyTableItem "a" :2
FillInteger x int64`},
		{"duplicate key", `TopLevelArray
KeyTableHeader 2
KeyTableItem "a" :4
KeyTableItem "a" :4
FillInteger x int64`},
		{"stray key table item", `TopLevelArray
FillInteger x int64
KeyTableItem "a" :1`},
		{"cycle", `TopLevelArray
KeyTableHeader 1
KeyTableItem "a" :1`},
		{"enum needs candidates", "TopLevelArray\nFillEnumString e int64"},
	}
	for _, test := range tests {
		if p, err := flatjson.Assemble(test.src); err == nil {
			t.Errorf("%s: Assemble: got %+v, want error", test.desc, p)
		} else {
			t.Logf("%s: Assemble correctly failed: %v", test.desc, err)
		}
	}
}

func TestAssembleDirectives(t *testing.T) {
	const body = `
TopLevelArray
VarLengthList outer int64
VarLengthList inner int64
FillNumber data float64
`
	t.Run("StrictKeys", func(t *testing.T) {
		p := mustAssemble(t, "!strict-keys\n"+body)
		if !p.StrictKeys() {
			t.Error("StrictKeys: got false, want true")
		}
	})
	t.Run("MaxDepthDefault", func(t *testing.T) {
		p := mustAssemble(t, body)
		if got, want := p.MaxDepth(), 3; got != want {
			t.Errorf("MaxDepth: got %d, want %d", got, want)
		}
	})
	t.Run("MaxDepthDeclared", func(t *testing.T) {
		p := mustAssemble(t, "!max-depth 2\n"+body)
		if got, want := p.MaxDepth(), 2; got != want {
			t.Errorf("MaxDepth: got %d, want %d", got, want)
		}
	})
	t.Run("MaxDepthClamped", func(t *testing.T) {
		p := mustAssemble(t, "!max-depth 100\n"+body)
		if got, want := p.MaxDepth(), 3; got != want {
			t.Errorf("MaxDepth: got %d, want %d", got, want)
		}
	})
}

func TestDisassemble(t *testing.T) {
	p := mustAssemble(t, `
TopLevelArray
KeyTableHeader 2
KeyTableItem "tag" :4
KeyTableItem "vals" :5
FillNullEnumString tag int64 "red" "green" "blue"
VarLengthList vals-offsets int64
FillNumber vals-data float64
`)
	got := p.Disassemble()
	for _, want := range []string{
		"0 TopLevelArray",
		"1 KeyTableHeader 2",
		`2 KeyTableItem "tag" :4`,
		`3 KeyTableItem "vals" :5`,
		`4 FillNullEnumString tag int64 "red" "green" "blue"`,
		"5 VarLengthList vals-offsets int64",
		"6 FillNumber vals-data float64",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Disassembly missing %q:\n%s", want, got)
		}
	}
}

func TestAssembleJSON(t *testing.T) {
	// The interchange form permits comments and trailing commas.
	const input = `{
  "format": "flatjson/1",
  "strictKeys": true,
  "instructions": [
    ["TopLevelArray"],
    ["KeyTableHeader", 1],
    ["KeyTableItem", "x", ":3"],
    ["FillNumber", "x-data", "float64"], // one column per record
  ],
}`
	p, err := flatjson.AssembleJSON([]byte(input))
	if err != nil {
		t.Fatalf("AssembleJSON failed: %v", err)
	}
	if got, want := p.NumInstructions(), 4; got != want {
		t.Errorf("NumInstructions: got %d, want %d", got, want)
	}
	if !p.StrictKeys() {
		t.Error("StrictKeys: got false, want true")
	}
	if got, want := p.NumOutputs(), 1; got != want {
		t.Errorf("NumOutputs: got %d, want %d", got, want)
	}

	t.Run("BadFormat", func(t *testing.T) {
		_, err := flatjson.AssembleJSON([]byte(`{"format": "nonesuch/9", "instructions": [["TopLevelArray"]]}`))
		if err == nil {
			t.Error("AssembleJSON: got nil, want error")
		}
	})
	t.Run("BadOperand", func(t *testing.T) {
		_, err := flatjson.AssembleJSON([]byte(`{
  "format": "flatjson/1",
  "instructions": [["TopLevelArray"], ["FixedLengthList", 2.5], ["FillInteger", "x", "int64"]]
}`))
		if err == nil {
			t.Error("AssembleJSON: got nil, want error")
		}
	})
}

package flatjson_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/creachadair/flatjson"
)

// benchInput generates n records of the form
// {"id": 1, "label": "point-1", "pos": [x, y]} separated by newlines.
func benchInput(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, `{"id": %d, "label": "point-%d", "pos": [%d.5, %d.25]}`, i, i, i, -i)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

const benchProgram = `
TopLevelArray
KeyTableHeader 3
KeyTableItem "id" :5
KeyTableItem "label" :6
KeyTableItem "pos" :7
FillInteger id int64
FillString label-offsets int64 label-data uint8
VarLengthList pos-offsets int64
FillNumber pos-data float64
`

func BenchmarkScanner(b *testing.B) {
	input := benchInput(1000)
	b.Logf("Benchmark input: %d bytes", len(input))

	b.Run("Decoder", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			dec := json.NewDecoder(bytes.NewReader(input))
			for {
				_, err := dec.Token()
				if err == io.EOF {
					break
				} else if err != nil {
					b.Fatalf("Unexpected error: %v", err)
				}
			}
		}
	})

	b.Run("Scanner", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			dec := flatjson.NewScanner(bytes.NewReader(input))
			for {
				err := dec.Next()
				if err == io.EOF {
					break
				} else if err != nil {
					b.Fatalf("Unexpected error: %v", err)
				}
			}
		}
	})
}

func BenchmarkDecode(b *testing.B) {
	prog, err := flatjson.Assemble(benchProgram)
	if err != nil {
		b.Fatalf("Assemble failed: %v", err)
	}
	input := benchInput(1000)
	b.SetBytes(int64(len(input)))

	for i := 0; i < b.N; i++ {
		d, err := flatjson.NewDecoder(prog, bytes.NewReader(input), nil)
		if err != nil {
			b.Fatalf("NewDecoder failed: %v", err)
		}
		if err := d.Decode(); err != nil {
			b.Fatalf("Decode failed: %v", err)
		}
	}
}

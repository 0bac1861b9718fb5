package eval

import (
	"io"

	"github.com/markus456/golisp/internal/reader"
	"github.com/markus456/golisp/internal/rt"
)

// LoadSource reads and evaluates every top-level form from src in scope,
// in order, returning the value of the last form (or Nil for an empty
// file). This backs the `load` builtin (spec.md §4.5's plumbing table);
// a malformed form is recorded to the error ring by the reader and
// evaluation continues with the next form, matching the REPL's recovery
// behavior.
func LoadSource(r *rt.Runtime, scope rt.Value, src io.Reader) rt.Value {
	p := reader.New(r, src)
	result := rt.Nil
	for {
		v, err := p.Read()
		if err == io.EOF {
			return result
		}
		if err != nil {
			r.Raise(&rt.FileOpenError{Message: err.Error()})
			return result
		}
		result = Eval(r, scope, v)
	}
}

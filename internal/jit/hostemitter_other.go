//go:build !amd64

package jit

import "github.com/markus456/golisp/internal/emitter"

// newHostEmitter reports no available back end on architectures this
// module doesn't ship an emitter for; CompileNamed falls back to leaving
// every named function in interpreted form, per spec.md §4.7's "falls back
// to an interpreted entry point" on compilation failure.
func newHostEmitter() (emitter.Emitter, bool) {
	return nil, false
}

//go:build amd64

package jit

import (
	"github.com/markus456/golisp/internal/emitter"
	"github.com/markus456/golisp/internal/emitter/amd64"
)

// newHostEmitter returns the concrete back end for the architecture this
// binary was built for. Kept out of internal/emitter itself to avoid that
// package importing its own implementations (spec.md §9's "instruction
// emitter is a trait ... concrete implementations are architecture-
// specific").
func newHostEmitter() (emitter.Emitter, bool) {
	return amd64.New(), true
}

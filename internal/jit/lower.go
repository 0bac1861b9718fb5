package jit

import (
	"fmt"

	"github.com/markus456/golisp/internal/rt"
)

const wordSize = 8 // sizeof(rt.Value) on every target this back end supports

// Tag-corrected byte offsets for the car/cdr fields of a cons cell reached
// through a still-tagged TagCell pointer (spec.md §4.6's PTR "offset
// chosen to encode the cell tag correction"): allocations are 8-byte
// aligned and TagCell is 3, so subtracting the tag from the field offset
// lets native code index straight off the tagged pointer without an
// explicit mask instruction.
const (
	carFieldOffset = wordSize - int(rt.TagCell)
	cdrFieldOffset = wordSize + wordSize - int(rt.TagCell)
)

// unsupported wraps reason as a JitUnsupportedError, signalling the caller
// to fall back to interpreted execution (spec.md §4.6's "anything else is
// rejected").
func unsupported(format string, args ...any) error {
	return &rt.JitUnsupportedError{Reason: fmt.Sprintf(format, args...)}
}

// lowerBody lowers fn's (already resolve-symbols'd) body into a bite tree.
// tail starts true: the outermost expression of a function body is always
// in tail position.
func lowerBody(r *rt.Runtime, fn rt.Value, paramIdx map[rt.Value]int, body rt.Value) (*Bite, error) {
	return lowerExpr(r, fn, paramIdx, body, true)
}

func lowerExpr(r *rt.Runtime, fn rt.Value, paramIdx map[rt.Value]int, v rt.Value, tail bool) (*Bite, error) {
	switch {
	case v.IsInt(), v.IsConst():
		return &Bite{Op: OpConstant, Const: v}, nil

	case v.IsSymbol():
		idx, ok := paramIdx[v]
		if !ok {
			return nil, unsupported("unresolved symbol %s", rt.SymbolName(v))
		}
		return &Bite{Op: OpParameter, Offset: idx * wordSize}, nil

	case v == fn:
		return nil, unsupported("self-reference used as a value, not a call")

	case v.IsCell():
		return lowerCall(r, fn, paramIdx, v, tail)

	default:
		return nil, unsupported("value not representable in compiled code")
	}
}

func lowerCall(r *rt.Runtime, fn rt.Value, paramIdx map[rt.Value]int, call rt.Value, tail bool) (*Bite, error) {
	head := rt.Car(call)
	argList := rt.Cdr(call)

	if head == fn {
		args, err := lowerArgs(r, fn, paramIdx, argList)
		if err != nil {
			return nil, err
		}
		op := OpCall
		if tail {
			op = OpRecurse
		}
		return &Bite{Op: op, Args: args, Callee: fn}, nil
	}

	// resolveSymbols (§4.6) rewrites a non-self call head directly to its
	// bound value, not to a binding cell, so head here already is the
	// builtin or function being called.
	if head.IsFunc() && rt.FuncCompiled(head) == rt.CompiledCode {
		args, err := lowerArgs(r, fn, paramIdx, argList)
		if err != nil {
			return nil, err
		}
		return &Bite{Op: OpCall, Args: args, Callee: head}, nil
	}

	if !head.IsBuiltin() {
		return nil, unsupported("call head does not resolve to a whitelisted builtin or compiled function")
	}
	return lowerBuiltin(r, fn, paramIdx, r.BuiltinName(head), argList, tail)
}

func lowerArgs(r *rt.Runtime, fn rt.Value, paramIdx map[rt.Value]int, argList rt.Value) ([]*Bite, error) {
	var out []*Bite
	for argList.IsCell() {
		b, err := lowerExpr(r, fn, paramIdx, rt.Car(argList), false)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		argList = rt.Cdr(argList)
	}
	return out, nil
}

func lowerBuiltin(r *rt.Runtime, fn rt.Value, paramIdx map[rt.Value]int, name string, argList rt.Value, tail bool) (*Bite, error) {
	args := listToSlice(argList)

	switch name {
	case "if":
		if len(args) != 3 {
			return nil, unsupported("if: expected 3 arguments, got %d", len(args))
		}
		cond, err := lowerExpr(r, fn, paramIdx, args[0], false)
		if err != nil {
			return nil, err
		}
		then, err := lowerExpr(r, fn, paramIdx, args[1], tail)
		if err != nil {
			return nil, err
		}
		els, err := lowerExpr(r, fn, paramIdx, args[2], tail)
		if err != nil {
			return nil, err
		}
		return &Bite{Op: OpIf, Args: []*Bite{cond}, Then: then, Else: els}, nil

	case "progn":
		if len(args) == 0 {
			return &Bite{Op: OpConstant, Const: rt.Nil}, nil
		}
		var lowered []*Bite
		for i, a := range args {
			b, err := lowerExpr(r, fn, paramIdx, a, tail && i == len(args)-1)
			if err != nil {
				return nil, err
			}
			lowered = append(lowered, b)
		}
		return &Bite{Op: OpProgn, Args: lowered}, nil

	case "+":
		return lowerBinary(r, fn, paramIdx, OpAdd, "+", args)
	case "-":
		if len(args) == 1 {
			a, err := lowerExpr(r, fn, paramIdx, args[0], false)
			if err != nil {
				return nil, err
			}
			return &Bite{Op: OpNeg, Args: []*Bite{a}}, nil
		}
		return lowerBinary(r, fn, paramIdx, OpSub, "-", args)
	case "<":
		return lowerBinary(r, fn, paramIdx, OpLess, "<", args)
	case "eq":
		return lowerBinary(r, fn, paramIdx, OpEq, "eq", args)

	case "car":
		if len(args) != 1 {
			return nil, unsupported("car: expected 1 argument, got %d", len(args))
		}
		base, err := lowerExpr(r, fn, paramIdx, args[0], false)
		if err != nil {
			return nil, err
		}
		return &Bite{Op: OpPtr, Args: []*Bite{base}, Offset: carFieldOffset}, nil

	case "cdr":
		if len(args) != 1 {
			return nil, unsupported("cdr: expected 1 argument, got %d", len(args))
		}
		base, err := lowerExpr(r, fn, paramIdx, args[0], false)
		if err != nil {
			return nil, err
		}
		return &Bite{Op: OpPtr, Args: []*Bite{base}, Offset: cdrFieldOffset}, nil

	case "write-char":
		if len(args) != 1 {
			return nil, unsupported("write-char: expected 1 argument, got %d", len(args))
		}
		a, err := lowerExpr(r, fn, paramIdx, args[0], false)
		if err != nil {
			return nil, err
		}
		return &Bite{Op: OpWriteChar, Args: []*Bite{a}}, nil

	default:
		return nil, unsupported("builtin %q is not in the compile whitelist", name)
	}
}

func lowerBinary(r *rt.Runtime, fn rt.Value, paramIdx map[rt.Value]int, op Op, name string, args []rt.Value) (*Bite, error) {
	if len(args) != 2 {
		return nil, unsupported("%s: expected 2 arguments, got %d", name, len(args))
	}
	a, err := lowerExpr(r, fn, paramIdx, args[0], false)
	if err != nil {
		return nil, err
	}
	b, err := lowerExpr(r, fn, paramIdx, args[1], false)
	if err != nil {
		return nil, err
	}
	return &Bite{Op: op, Args: []*Bite{a, b}}, nil
}

func listToSlice(v rt.Value) []rt.Value {
	var out []rt.Value
	for v.IsCell() {
		out = append(out, rt.Car(v))
		v = rt.Cdr(v)
	}
	return out
}

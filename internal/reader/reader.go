// Package reader implements the S-expression tokenizer/parser the core
// treats as an external collaborator (spec.md §1): "parse produces values".
// It has no access to the heap's internals beyond the public rt
// constructors and error recording (List, Symbol, Int, Raise), matching
// the narrow interface the core
// exposes to the REPL/loader.
package reader

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/markus456/golisp/internal/rt"
)

const maxSymbolBytes = 1024

// Reader reads successive top-level forms from an underlying byte stream.
type Reader struct {
	rt  *rt.Runtime
	src *bufio.Reader
}

// New wraps src for reading Lisp forms against rt.
func New(r *rt.Runtime, src io.Reader) *Reader {
	return &Reader{rt: r, src: bufio.NewReader(src)}
}

// Read parses the next top-level form. At end of input it returns
// (rt.Undefined, io.EOF); on a lexical or structural error it records the
// error on the Runtime and returns (rt.Undefined, nil) so callers can keep
// reading subsequent forms, mirroring how a REPL recovers from a bad line.
// The one exception is a list left open at end of input: the error is
// recorded and the elements read so far are returned as a list.
func (p *Reader) Read() (rt.Value, error) {
	p.skipAtmosphere()
	c, err := p.src.ReadByte()
	if err == io.EOF {
		return rt.Undefined, io.EOF
	}
	if err != nil {
		return rt.Undefined, err
	}
	return p.readForm(c)
}

func (p *Reader) readForm(c byte) (rt.Value, error) {
	switch {
	case c == '(':
		return p.readList()
	case c == ')':
		p.rt.Raise(&rt.MalformedInputError{Reason: "unexpected )"})
		return rt.Undefined, nil
	case c == '\'':
		v, err := p.readAfterAtmosphere()
		if err != nil {
			return rt.Undefined, err
		}
		return rt.List(p.rt, p.rt.Symbol("quote"), v), nil
	case c == '"':
		p.rt.Raise(&rt.MalformedInputError{Reason: "strings are not supported"})
		return p.skipToClosingQuote()
	default:
		return p.readAtom(c)
	}
}

func (p *Reader) readAfterAtmosphere() (rt.Value, error) {
	p.skipAtmosphere()
	c, err := p.src.ReadByte()
	if err != nil {
		return rt.Undefined, err
	}
	return p.readForm(c)
}

func (p *Reader) skipToClosingQuote() (rt.Value, error) {
	for {
		c, err := p.src.ReadByte()
		if err != nil {
			return rt.Undefined, err
		}
		if c == '"' {
			return rt.Undefined, nil
		}
	}
}

// readList parses the elements of a list after its opening '(' has already
// been consumed, producing a proper list (no dotted-pair syntax).
func (p *Reader) readList() (rt.Value, error) {
	var elems []rt.Value
	for {
		p.skipAtmosphere()
		c, err := p.src.ReadByte()
		if err == io.EOF {
			p.rt.Raise(&rt.MalformedInputError{Reason: "unterminated list"})
			return rt.List(p.rt, elems...), nil
		}
		if err != nil {
			return rt.Undefined, err
		}
		if c == ')' {
			return rt.List(p.rt, elems...), nil
		}
		v, err := p.readForm(c)
		if err != nil {
			return rt.Undefined, err
		}
		elems = append(elems, v)
	}
}

func (p *Reader) readAtom(first byte) (rt.Value, error) {
	var b strings.Builder
	b.WriteByte(first)
	for {
		c, err := p.src.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rt.Undefined, err
		}
		if isDelimiter(c) {
			p.src.UnreadByte()
			break
		}
		b.WriteByte(c)
	}
	text := b.String()

	if n, ok := parseInt(text); ok {
		if n > rt.MaxInt || n < rt.MinInt {
			p.rt.Raise(&rt.IntegerOverflowError{Literal: text})
			return rt.Undefined, nil
		}
		return rt.Int(n), nil
	}
	if looksNumeric(text) {
		// Decimal digits that still failed to parse as an in-range int64
		// (more digits than int64 can hold) are an overflow, not a symbol.
		p.rt.Raise(&rt.IntegerOverflowError{Literal: text})
		return rt.Undefined, nil
	}
	if len(text) > maxSymbolBytes {
		p.rt.Raise(&rt.SymbolNameTooLongError{Name: text})
		return rt.Undefined, nil
	}
	if text == "nil" {
		return rt.Nil, nil
	}
	if text == "t" {
		return rt.True, nil
	}
	return p.rt.Symbol(text), nil
}

func parseInt(text string) (int64, bool) {
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func looksNumeric(text string) bool {
	i := 0
	if len(text) > 0 && (text[0] == '+' || text[0] == '-') {
		i = 1
	}
	if i == len(text) {
		return false
	}
	for ; i < len(text); i++ {
		if text[i] < '0' || text[i] > '9' {
			return false
		}
	}
	return true
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '\'', '"', ' ', '\t', '\n', '\r', ';':
		return true
	}
	return false
}

// skipAtmosphere consumes whitespace and ;-to-end-of-line comments.
func (p *Reader) skipAtmosphere() {
	for {
		c, err := p.src.ReadByte()
		if err != nil {
			return
		}
		switch {
		case c == ';':
			for {
				c, err := p.src.ReadByte()
				if err != nil || c == '\n' {
					break
				}
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			// consumed
		default:
			p.src.UnreadByte()
			return
		}
	}
}

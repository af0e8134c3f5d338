package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/schemaflow/platform/internal/engine/path"
)

// node is a parsed expression tree element.
type node interface{ exprNode() }

type literalNode struct {
	value interface{}
}

type refNode struct {
	raw  string
	segs []path.Segment
}

type callNode struct {
	name string
	pos  int
	args []node
}

func (literalNode) exprNode() {}
func (refNode) exprNode()     {}
func (callNode) exprNode()    {}

type parser struct {
	lex  *lexer
	cur  token
	peek token
}

func newParser(input string) (*parser, error) {
	p := &parser{lex: &lexer{input: input}}
	var err error
	if p.cur, err = p.lex.next(); err != nil {
		return nil, err
	}
	if p.peek, err = p.lex.next(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	p.cur = p.peek
	var err error
	p.peek, err = p.lex.next()
	return err
}

// parse consumes a full expression and requires EOF afterwards.
func parse(input string) (node, error) {
	p, err := newParser(input)
	if err != nil {
		return nil, err
	}
	n, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tkEOF {
		return nil, fmt.Errorf("expr: unexpected %q at offset %d", p.cur.text, p.cur.pos)
	}
	return n, nil
}

func (p *parser) parseValue() (node, error) {
	switch p.cur.kind {
	case tkString:
		n := literalNode{value: p.cur.text}
		return n, p.advance()
	case tkNumber:
		f, err := strconv.ParseFloat(p.cur.text, 64)
		if err != nil {
			return nil, fmt.Errorf("expr: bad number %q at offset %d", p.cur.text, p.cur.pos)
		}
		n := literalNode{value: f}
		return n, p.advance()
	case tkRef:
		switch p.cur.text {
		case "true":
			n := literalNode{value: true}
			return n, p.advance()
		case "false":
			n := literalNode{value: false}
			return n, p.advance()
		case "null":
			n := literalNode{value: nil}
			return n, p.advance()
		}
		if p.peek.kind == tkLParen {
			return p.parseCall()
		}
		segs, err := path.Split(p.cur.text)
		if err != nil {
			return nil, fmt.Errorf("expr: %v", err)
		}
		n := refNode{raw: p.cur.text, segs: segs}
		return n, p.advance()
	default:
		return nil, fmt.Errorf("expr: unexpected %q at offset %d", p.cur.text, p.cur.pos)
	}
}

func (p *parser) parseCall() (node, error) {
	name := p.cur.text
	pos := p.cur.pos
	if strings.ContainsAny(name, ".[") {
		return nil, fmt.Errorf("expr: %q is not a function name at offset %d", name, pos)
	}
	if err := p.advance(); err != nil { // onto "("
		return nil, err
	}
	if err := p.advance(); err != nil { // past "("
		return nil, err
	}

	call := callNode{name: name, pos: pos}
	if p.cur.kind == tkRParen {
		return call, p.advance()
	}
	for {
		arg, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		switch p.cur.kind {
		case tkComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tkRParen:
			return call, p.advance()
		default:
			return nil, fmt.Errorf("expr: expected ',' or ')' at offset %d", p.cur.pos)
		}
	}
}

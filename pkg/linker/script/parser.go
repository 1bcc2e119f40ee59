package script

import (
	"errors"
	"fmt"
	"os"
)

// ErrSyntax is wrapped by every parse error
var ErrSyntax = errors.New("script syntax error")

// Parse compiles linker script source into a Program
func Parse(source string) (*Program, error) {
	lx := newLexer(source)
	var tokens []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		tokens = append(tokens, tok)
		if tok.kind == tokenEOF {
			break
		}
	}
	p := &parser{tokens: tokens}
	program := &Program{}
	for !p.at(tokenEOF, "") {
		statement, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		program.Statements = append(program.Statements, statement)
	}
	return program, nil
}

// ParseFile compiles a linker script file
func ParseFile(path string) (*Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open linker script %s: %v", ErrSyntax, path, err)
	}
	return Parse(string(source))
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) at(kind tokenKind, text string) bool {
	tok := p.peek()
	return tok.kind == kind && (text == "" || tok.text == text)
}

func (p *parser) accept(kind tokenKind, text string) bool {
	if p.at(kind, text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, text string) (token, error) {
	if !p.at(kind, text) {
		want := text
		if want == "" {
			want = map[tokenKind]string{
				tokenIdent: "identifier", tokenString: "string", tokenInteger: "integer",
			}[kind]
		}
		return token{}, p.errorf("expected %s, found %s", want, p.peek())
	}
	return p.advance(), nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, p.peek().line, fmt.Sprintf(format, args...))
}

func (p *parser) parseStatement() (Statement, error) {
	switch {
	case p.at(tokenString, ""):
		return p.parseSegmentBlock()
	case p.at(tokenIdent, "for"):
		return p.parseTemplateBlock()
	default:
		action, err := p.parseAction()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenPunct, ";"); err != nil {
			return nil, err
		}
		return action, nil
	}
}

func (p *parser) parseSegmentBlock() (Statement, error) {
	name := p.advance().text
	commands, post, err := p.parseBlockBody()
	if err != nil {
		return nil, err
	}
	return &SegmentBlock{Name: name, Commands: commands, Post: post}, nil
}

func (p *parser) parseTemplateBlock() (Statement, error) {
	p.advance() // for
	match, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	commands, post, err := p.parseBlockBody()
	if err != nil {
		return nil, err
	}
	return &TemplateBlock{Match: match, Commands: commands, Post: post}, nil
}

func (p *parser) parseBlockBody() (commands []Command, post []Action, err error) {
	if _, err = p.expect(tokenPunct, "{"); err != nil {
		return nil, nil, err
	}
	for !p.accept(tokenPunct, "}") {
		command, err := p.parseCommand()
		if err != nil {
			return nil, nil, err
		}
		if _, err := p.expect(tokenPunct, ";"); err != nil {
			return nil, nil, err
		}
		commands = append(commands, command)
	}
	if p.accept(tokenPunct, "{") {
		for !p.accept(tokenPunct, "}") {
			action, err := p.parseAction()
			if err != nil {
				return nil, nil, err
			}
			if _, err := p.expect(tokenPunct, ";"); err != nil {
				return nil, nil, err
			}
			post = append(post, action)
		}
	}
	if _, err = p.expect(tokenPunct, ";"); err != nil {
		return nil, nil, err
	}
	return commands, post, nil
}

func (p *parser) parseCommand() (Command, error) {
	if p.accept(tokenIdent, "all") {
		// a bare `all` or one followed directly by actions collects
		// every remaining section
		var match Predicate = &MatchAny{}
		if !p.startsAction() && !p.at(tokenPunct, ";") {
			parsed, err := p.parsePredicate()
			if err != nil {
				return nil, err
			}
			match = parsed
		}
		var actions []Action
		for p.startsAction() {
			action, err := p.parseAction()
			if err != nil {
				return nil, err
			}
			actions = append(actions, action)
		}
		return &Collect{Match: match, Actions: actions}, nil
	}
	action, err := p.parseAction()
	if err != nil {
		return nil, err
	}
	command, ok := action.(Command)
	if !ok {
		return nil, p.errorf("directive not allowed here")
	}
	return command, nil
}

func (p *parser) startsAction() bool {
	if p.at(tokenIdent, "at") || p.at(tokenIdent, "align") || p.at(tokenIdent, "base") {
		return true
	}
	return p.at(tokenIdent, "") && p.pos+1 < len(p.tokens) &&
		p.tokens[p.pos+1].kind == tokenPunct && p.tokens[p.pos+1].text == "="
}

func (p *parser) parseAction() (Action, error) {
	switch {
	case p.accept(tokenIdent, "at"):
		address, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &SetCurrentAddress{Address: address}, nil
	case p.accept(tokenIdent, "align"):
		boundary, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &AlignAddress{Boundary: boundary}, nil
	case p.accept(tokenIdent, "base"):
		base, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &SetNextBase{Base: base}, nil
	case p.at(tokenIdent, ""):
		name := p.advance().text
		if _, err := p.expect(tokenPunct, "="); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &Assign{Name: name, Value: value}, nil
	default:
		return nil, p.errorf("expected directive, found %s", p.peek())
	}
}

var flagTests = map[string]FlagTest{
	"read":     TestReadable,
	"write":    TestWritable,
	"execute":  TestExecutable,
	"exec":     TestExecutable,
	"merge":    TestMergeable,
	"zero":     TestZeroFilled,
	"fixed":    TestFixed,
	"resource": TestResource,
	"optional": TestOptional,
	"stack":    TestStack,
	"heap":     TestHeap,
}

func (p *parser) parsePredicate() (Predicate, error) {
	match, err := p.parseOrPredicate()
	if err != nil {
		return nil, err
	}
	if p.accept(tokenIdent, "maximum") {
		limit, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &MaximumSections{Match: match, Limit: limit}, nil
	}
	return match, nil
}

func (p *parser) parseOrPredicate() (Predicate, error) {
	left, err := p.parseAndPredicate()
	if err != nil {
		return nil, err
	}
	for p.accept(tokenIdent, "or") {
		right, err := p.parseAndPredicate()
		if err != nil {
			return nil, err
		}
		left = &OrPredicate{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAndPredicate() (Predicate, error) {
	left, err := p.parseUnaryPredicate()
	if err != nil {
		return nil, err
	}
	for p.accept(tokenIdent, "and") {
		right, err := p.parseUnaryPredicate()
		if err != nil {
			return nil, err
		}
		left = &AndPredicate{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnaryPredicate() (Predicate, error) {
	if p.accept(tokenIdent, "not") {
		operand, err := p.parseUnaryPredicate()
		if err != nil {
			return nil, err
		}
		return &NotPredicate{Operand: operand}, nil
	}
	return p.parsePrimaryPredicate()
}

func (p *parser) parsePrimaryPredicate() (Predicate, error) {
	if p.accept(tokenPunct, "(") {
		match, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenPunct, ")"); err != nil {
			return nil, err
		}
		return match, nil
	}
	if p.at(tokenString, "") {
		return &MatchName{Name: p.advance().text}, nil
	}
	if !p.at(tokenIdent, "") {
		return nil, p.errorf("expected predicate, found %s", p.peek())
	}
	word := p.advance().text
	switch word {
	case "any":
		return &MatchAny{}, nil
	case "suffix":
		suffix, err := p.expect(tokenString, "")
		if err != nil {
			return nil, err
		}
		return &MatchSuffix{Suffix: suffix.text}, nil
	case "custom_flag":
		if _, err := p.expect(tokenPunct, "("); err != nil {
			return nil, err
		}
		flags, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenPunct, ")"); err != nil {
			return nil, err
		}
		return &MatchCustomFlag{Flags: flags}, nil
	}
	if test, ok := flagTests[word]; ok {
		return &MatchFlag{Test: test}, nil
	}
	return nil, p.errorf("unknown predicate `%s`", word)
}

func (p *parser) parseExpression() (Expression, error) {
	return p.parseOrExpr()
}

func (p *parser) parseBinary(next func() (Expression, error), ops ...string) (Expression, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.at(tokenPunct, op) {
				p.advance()
				right, err := next()
				if err != nil {
					return nil, err
				}
				left = &Binary{Op: op, Left: left, Right: right}
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
	}
}

func (p *parser) parseOrExpr() (Expression, error) {
	return p.parseBinary(p.parseXorExpr, "|")
}

func (p *parser) parseXorExpr() (Expression, error) {
	return p.parseBinary(p.parseAndExpr, "^")
}

func (p *parser) parseAndExpr() (Expression, error) {
	return p.parseBinary(p.parseShiftExpr, "&")
}

func (p *parser) parseShiftExpr() (Expression, error) {
	return p.parseBinary(p.parseAddExpr, "<<", ">>")
}

func (p *parser) parseAddExpr() (Expression, error) {
	return p.parseBinary(p.parseUnaryExpr, "+", "-")
}

func (p *parser) parseUnaryExpr() (Expression, error) {
	if p.at(tokenPunct, "-") || p.at(tokenPunct, "~") {
		op := p.advance().text[0]
		operand, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, Operand: operand}, nil
	}
	return p.parsePrimaryExpr()
}

func (p *parser) parsePrimaryExpr() (Expression, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokenInteger:
		p.advance()
		return &Integer{Value: tok.num}, nil
	case p.accept(tokenPunct, "?"):
		name, err := p.expect(tokenIdent, "")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenPunct, "?"); err != nil {
			return nil, err
		}
		return &Parameter{Name: name.text}, nil
	case p.accept(tokenPunct, "("):
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenPunct, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tok.kind == tokenIdent:
		p.advance()
		switch tok.text {
		case "here":
			return &Here{}, nil
		case "start", "size", "base":
			if _, err := p.expect(tokenIdent, "of"); err != nil {
				return nil, err
			}
			name, err := p.parseName()
			if err != nil {
				return nil, err
			}
			switch tok.text {
			case "start":
				return &StartOf{Name: name}, nil
			case "size":
				return &SizeOf{Name: name}, nil
			default:
				return &BaseOf{Name: name}, nil
			}
		case "align":
			if _, err := p.expect(tokenPunct, "("); err != nil {
				return nil, err
			}
			value, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenPunct, ","); err != nil {
				return nil, err
			}
			boundary, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenPunct, ")"); err != nil {
				return nil, err
			}
			return &AlignExpr{Value: value, Boundary: boundary}, nil
		case "max", "maximum", "min", "minimum":
			if _, err := p.expect(tokenPunct, "("); err != nil {
				return nil, err
			}
			var args []Expression
			for {
				arg, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.accept(tokenPunct, ",") {
					break
				}
			}
			if _, err := p.expect(tokenPunct, ")"); err != nil {
				return nil, err
			}
			if tok.text[1] == 'a' {
				return &Maximum{Args: args}, nil
			}
			return &Minimum{Args: args}, nil
		default:
			return &Identifier{Name: tok.text}, nil
		}
	}
	return nil, p.errorf("expected expression, found %s", tok)
}

func (p *parser) parseName() (string, error) {
	if p.at(tokenString, "") || p.at(tokenIdent, "") {
		return p.advance().text, nil
	}
	return "", p.errorf("expected name, found %s", p.peek())
}

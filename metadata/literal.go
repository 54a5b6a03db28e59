package metadata

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The structured columns in released metadata tables hold cells written by
// the Python pipeline with repr(), e.g. "['Sst-IRES-Cre']" or
// "{'depth': 175}". ParseLiteral decodes that literal syntax: strings with
// single or double quotes, ints, floats, True/False/None, lists, tuples,
// and dicts. Tuples decode to lists. Nothing in the Go ecosystem reads this
// format, JSON readers reject the single quotes.
func ParseLiteral(s string) (interface{}, error) {
	p := &litparser{in: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.ws()
	if p.pos != len(p.in) {
		return nil, fmt.Errorf("literal %q: trailing data at offset %d", s, p.pos)
	}
	return v, nil
}

type litparser struct {
	in  string
	pos int
}

func (p *litparser) errf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("literal %q: %s at offset %d", p.in, msg, p.pos)
}

// ws skips whitespace.
func (p *litparser) ws() {
	for p.pos < len(p.in) && unicode.IsSpace(rune(p.in[p.pos])) {
		p.pos++
	}
}

func (p *litparser) peek() byte {
	if p.pos >= len(p.in) {
		return 0
	}
	return p.in[p.pos]
}

func (p *litparser) value() (interface{}, error) {
	p.ws()
	switch c := p.peek(); {
	case c == '\'' || c == '"':
		return p.str(c)
	case c == '[':
		return p.seq('[', ']')
	case c == '(':
		return p.seq('(', ')')
	case c == '{':
		return p.dict()
	case c == '-' || c == '+' || c == '.' || ('0' <= c && c <= '9'):
		return p.number()
	default:
		return p.word()
	}
}

// str parses a quoted string with backslash escapes.
func (p *litparser) str(quote byte) (interface{}, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		switch c {
		case quote:
			p.pos++
			return b.String(), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.in) {
				return nil, p.errf("unterminated escape")
			}
			e := p.in[p.pos]
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				return nil, p.errf("unsupported escape \\%c", e)
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, p.errf("unterminated string")
}

// seq parses a list or tuple. Both decode to a []interface{}.
func (p *litparser) seq(open, close byte) (interface{}, error) {
	p.pos++ // opening bracket
	result := []interface{}{}
	p.ws()
	if p.peek() == close {
		p.pos++
		return result, nil
	}
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		result = append(result, v)
		p.ws()
		switch p.peek() {
		case ',':
			p.pos++
			p.ws()
			// allow a trailing comma, which repr() emits for 1-tuples
			if p.peek() == close {
				p.pos++
				return result, nil
			}
		case close:
			p.pos++
			return result, nil
		default:
			return nil, p.errf("expected ',' or '%c'", close)
		}
	}
}

func (p *litparser) dict() (interface{}, error) {
	p.pos++ // opening brace
	result := map[string]interface{}{}
	p.ws()
	if p.peek() == '}' {
		p.pos++
		return result, nil
	}
	for {
		p.ws()
		c := p.peek()
		if c != '\'' && c != '"' {
			return nil, p.errf("expected a string key")
		}
		k, err := p.str(c)
		if err != nil {
			return nil, err
		}
		p.ws()
		if p.peek() != ':' {
			return nil, p.errf("expected ':'")
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		result[k.(string)] = v
		p.ws()
		switch p.peek() {
		case ',':
			p.pos++
			p.ws()
			if p.peek() == '}' {
				p.pos++
				return result, nil
			}
		case '}':
			p.pos++
			return result, nil
		default:
			return nil, p.errf("expected ',' or '}'")
		}
	}
}

func (p *litparser) number() (interface{}, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		switch {
		case '0' <= c && c <= '9':
			p.pos++
		case c == '.' || c == 'e' || c == 'E':
			isFloat = true
			p.pos++
		case (c == '-' || c == '+') && (p.in[p.pos-1] == 'e' || p.in[p.pos-1] == 'E'):
			p.pos++
		default:
			goto done
		}
	}
done:
	text := p.in[start:p.pos]
	if !isFloat {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return n, nil
		}
		// fall through for out-of-range ints
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errf("bad number %q", text)
	}
	return f, nil
}

// word parses the bare keywords repr() can produce.
func (p *litparser) word() (interface{}, error) {
	start := p.pos
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		if !unicode.IsLetter(rune(c)) {
			break
		}
		p.pos++
	}
	switch p.in[start:p.pos] {
	case "None", "nan":
		return nil, nil
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	p.pos = start
	return nil, p.errf("unrecognized token")
}

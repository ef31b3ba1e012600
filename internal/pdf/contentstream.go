package pdf

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// ContentStreamStrategy decodes each page's content stream with pdfcpu and
// interprets the text-showing operators directly.
type ContentStreamStrategy struct{}

func (ContentStreamStrategy) Name() string { return "content-stream" }

func (ContentStreamStrategy) Extract(ctx context.Context, doc Document, pages []int) (out map[int]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("content stream extraction panicked: %v", r)
		}
	}()

	pdfCtx, err := readContext(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	out = make(map[int]string, len(pages))
	for _, n := range pages {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if n < 1 || n > pdfCtx.PageCount {
			continue
		}
		r, err := pdfcpu.ExtractPageContent(pdfCtx, n)
		if err != nil || r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}
		if text := textFromContentStream(data); text != "" {
			out[n] = text
		}
	}
	if len(out) == 0 {
		return nil, ErrNoText
	}
	return out, nil
}

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokNumber
	tokString
	tokArrayStart
	tokArrayEnd
	tokOther
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// textFromContentStream walks the operators of a content stream and collects
// the strings shown by Tj, TJ, ' and ". Positioning operators become spaces or
// line breaks.
func textFromContentStream(data []byte) string {
	var sb strings.Builder
	var operands []token
	var lastY float64
	haveY := false

	newline := func() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
	}
	space := func() {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
	}

	lex := &lexer{data: data}
	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj":
			if s, ok := lastString(operands); ok {
				sb.WriteString(s)
			}
		case "TJ":
			for _, op := range operands {
				switch op.kind {
				case tokString:
					sb.WriteString(op.text)
				case tokNumber:
					// Large negative adjustments are inter-word gaps.
					if op.num < -200 {
						space()
					}
				}
			}
		case "'", "\"":
			newline()
			if s, ok := lastString(operands); ok {
				sb.WriteString(s)
			}
		case "T*":
			newline()
		case "Td", "TD":
			if ty, ok := numberAt(operands, 1); ok && ty != 0 {
				newline()
			} else {
				space()
			}
		case "Tm":
			if f, ok := numberAt(operands, 5); ok {
				if haveY && f != lastY {
					newline()
				} else {
					space()
				}
				lastY, haveY = f, true
			}
		case "ET":
			newline()
		}
		operands = operands[:0]
	}
	return normalizeText(sb.String())
}

func lastString(ops []token) (string, bool) {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].kind == tokString {
			return ops[i].text, true
		}
	}
	return "", false
}

// numberAt returns the i-th numeric operand.
func numberAt(ops []token, i int) (float64, bool) {
	seen := 0
	for _, op := range ops {
		if op.kind != tokNumber {
			continue
		}
		if seen == i {
			return op.num, true
		}
		seen++
	}
	return 0, false
}

type lexer struct {
	data []byte
	pos  int
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhite(c)
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == 0
}

func (l *lexer) next() (token, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isWhite(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return token{kind: tokString, text: l.literalString()}, true
		case c == '<':
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
				l.pos += 2
				return token{kind: tokOther, text: "<<"}, true
			}
			l.pos++
			return token{kind: tokString, text: l.hexString()}, true
		case c == '>':
			l.pos++
			if l.pos < len(l.data) && l.data[l.pos] == '>' {
				l.pos++
			}
			return token{kind: tokOther, text: ">>"}, true
		case c == '[':
			l.pos++
			return token{kind: tokArrayStart}, true
		case c == ']':
			l.pos++
			return token{kind: tokArrayEnd}, true
		case c == '/':
			start := l.pos
			l.pos++
			for l.pos < len(l.data) && !isDelimiter(l.data[l.pos]) {
				l.pos++
			}
			return token{kind: tokOther, text: string(l.data[start:l.pos])}, true
		default:
			start := l.pos
			for l.pos < len(l.data) && !isDelimiter(l.data[l.pos]) {
				l.pos++
			}
			if l.pos == start {
				l.pos++
				continue
			}
			word := string(l.data[start:l.pos])
			if f, err := strconv.ParseFloat(word, 64); err == nil {
				return token{kind: tokNumber, num: f, text: word}, true
			}
			return token{kind: tokOperator, text: word}, true
		}
	}
	return token{}, false
}

// literalString reads a (...) string body, honouring nesting and escapes.
func (l *lexer) literalString() string {
	var sb strings.Builder
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.data) {
				return sb.String()
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for k := 0; k < 2 && l.pos < len(l.data); k++ {
					d := l.data[l.pos]
					if d < '0' || d > '7' {
						break
					}
					v = v*8 + int(d-'0')
					l.pos++
				}
				writeByteText(&sb, byte(v))
			default:
				sb.WriteByte(e)
			}
		case '(':
			depth++
			sb.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		default:
			writeByteText(&sb, c)
		}
	}
	return sb.String()
}

func (l *lexer) hexString() string {
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		c := l.data[l.pos]
		if !isWhite(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // closing >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}

	raw := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		raw = append(raw, byte(v))
	}

	// Two-byte CID strings cannot be mapped without the font's CMap; keep only
	// their printable low bytes.
	var sb strings.Builder
	for _, b := range raw {
		if b >= 0x20 {
			writeByteText(&sb, b)
		}
	}
	return sb.String()
}

// writeByteText maps a single-byte-encoded character to UTF-8, treating the
// high half as Latin-1.
func writeByteText(sb *strings.Builder, b byte) {
	if b < 0x80 {
		if b >= 0x20 || b == '\n' || b == '\t' {
			sb.WriteByte(b)
		}
		return
	}
	sb.WriteRune(rune(b))
}

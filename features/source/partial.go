package source

import "strings"

// cut is a position in partial JSON where the document can be truncated and
// closed: right after an opening bracket or right before a member separator.
type cut struct {
	pos   int
	stack string
}

// closePartial returns candidate completions of the truncated JSON document
// text, most complete first. An unterminated string value is closed in
// place; an incomplete member (key, literal or number) is dropped by
// truncating at the last cut point. Candidates are not guaranteed to be
// valid JSON.
func closePartial(text string) []string {
	var (
		stack    []byte
		inString bool
		escape   bool
		last     byte
		best     cut
		haveCut  bool
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
				last = ch
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
			best, haveCut = cut{pos: i + 1, stack: string(stack)}, true
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ',':
			best, haveCut = cut{pos: i, stack: string(stack)}, true
		}
		if ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r' {
			last = ch
		}
	}
	var out []string
	if inString {
		s := text
		if escape {
			s = s[:len(s)-1]
		}
		out = append(out, s+`"`+closers(string(stack)))
	} else if last == '"' || last == '}' || last == ']' {
		out = append(out, text+closers(string(stack)))
	}
	if haveCut {
		out = append(out, strings.TrimRight(text[:best.pos], " \t\r\n")+closers(best.stack))
	}
	return out
}

func closers(stack string) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// normalizeJSONC blanks comments and trailing commas in place so decoder
// offsets still map onto the original file.
func normalizeJSONC(content string) (string, error) {
	out := []byte(content)
	inString := false
	escape := false
	lastComma := -1

	for i := 0; i < len(out); i++ {
		ch := out[i]

		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			lastComma = -1
		case ch == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
				i++
			}
		case ch == '/' && i+1 < len(out) && out[i+1] == '*':
			end := -1
			for j := i + 2; j+1 < len(out); j++ {
				if out[j] == '*' && out[j+1] == '/' {
					end = j + 1
					break
				}
			}
			if end < 0 {
				return "", errors.New("unterminated block comment in JSONC")
			}
			for j := i; j <= end; j++ {
				if !isJSONWhitespace(out[j]) {
					out[j] = ' '
				}
			}
			i = end
		case ch == ',':
			lastComma = i
		case ch == '}' || ch == ']':
			if lastComma >= 0 {
				out[lastComma] = ' '
			}
			lastComma = -1
		case isJSONWhitespace(ch):
		default:
			lastComma = -1
		}
	}

	return string(out), nil
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

// wrapJSONDecodeError prefixes err with a line and column when one can be
// recovered.
func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	// Unknown-field errors carry no offset; locate the quoted key instead.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		if idx := strings.Index(content, field); idx >= 0 {
			line, col := offsetToLineCol(content, int64(idx)+1)
			return fmt.Errorf("line %d column %d: %w", line, col, err)
		}
	}
	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := min(int(offset), len(content))
	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

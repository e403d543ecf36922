package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// Abbreviations that end in a period without ending the sentence.
var abbreviations = map[string]struct{}{
	"e.g": {}, "i.e": {}, "etc": {}, "vs": {}, "mr": {}, "mrs": {}, "ms": {}, "dr": {}, "st": {},
}

var pronounI = regexp.MustCompile(`\bi\b('(?:m|d|ll|ve|re|s)\b)?`)

func capitalizeSentences(text string) string {
	runes := []rune(text)
	start := true
	for i, r := range runes {
		switch {
		case start && unicode.IsLetter(r):
			runes[i] = unicode.ToUpper(r)
			start = false
		case start && unicode.IsDigit(r):
			start = false
		case r == '!' || r == '?':
			start = true
		case r == '.':
			start = endsSentence(runes, i)
		}
	}

	out := []byte(string(runes))
	for _, m := range pronounI.FindAllIndex(out, -1) {
		// "i.e." is not the pronoun.
		if m[1]+1 < len(out) && out[m[1]] == '.' && unicode.IsLetter(rune(out[m[1]+1])) {
			continue
		}
		out[m[0]] = 'I'
	}
	return string(out)
}

// endsSentence reports whether the period at idx closes a sentence.
func endsSentence(runes []rune, idx int) bool {
	if idx+1 < len(runes) && !unicode.IsSpace(runes[idx+1]) {
		return false
	}
	begin := idx
	for begin > 0 && (unicode.IsLetter(runes[begin-1]) || runes[begin-1] == '.') {
		begin--
	}
	word := strings.ToLower(string(runes[begin:idx]))
	_, abbrev := abbreviations[word]
	return !abbrev
}

package poet

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raine/image-poet/internal/failure"
)

// Keywords is an ordered list of trimmed, non-empty, unique terms.
type Keywords []string

// keywordSeparators are the commas models use between list items.
const keywordSeparators = ",，、"

// keywordQuotes are stripped from both ends of each token.
const keywordQuotes = "\"'`“”‘’「」『』"

// ParseKeywords extracts the keyword list from a reply of the form
// "[kw1,kw2,...]". Text around the brackets is ignored.
func ParseKeywords(s string) (Keywords, error) {
	open := strings.IndexAny(s, "[［")
	if open < 0 {
		return nil, failure.Newf(failure.KindMalformedResponse, "keywords", "no '[' in %q", truncate(s, 80))
	}
	_, width := utf8.DecodeRuneInString(s[open:])
	rest := s[open+width:]
	end := strings.IndexAny(rest, "]］")
	if end < 0 {
		return nil, failure.Newf(failure.KindMalformedResponse, "keywords", "no closing ']' in %q", truncate(s, 80))
	}
	inner := rest[:end]

	tokens := strings.FieldsFunc(inner, func(r rune) bool {
		return strings.ContainsRune(keywordSeparators, r)
	})
	return NormalizeKeywords(tokens), nil
}

// NormalizeKeywords trims each keyword, drops empty ones and removes
// duplicates keeping the first occurrence.
func NormalizeKeywords(raw []string) Keywords {
	seen := make(map[string]struct{}, len(raw))
	out := make(Keywords, 0, len(raw))
	for _, tok := range raw {
		tok = cleanToken(tok)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func cleanToken(tok string) string {
	for {
		before := tok
		tok = strings.TrimSpace(tok)
		tok = strings.Trim(tok, keywordQuotes)
		tok = strings.TrimRightFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) && !strings.ContainsRune(keywordQuotes, r)
		})
		if tok == before {
			return tok
		}
	}
}

// Join renders the keywords with the ideographic comma used in prompts.
func (k Keywords) Join() string {
	return strings.Join(k, "、")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

package fulltext

import (
	"strings"
	"unicode"
)

// Filter is one stage of the tokenise -> filter pipeline of spec.md §4.G:
// "tokenise -> filter (lowercase, stemming, n-gram, ascii, snowball) ->
// term dictionary -> postings."
type Filter func([]string) []string

// Tokenize splits input on non-letter/non-digit runes, the baseline
// tokeniser feeding the filter pipeline.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// LowercaseFilter folds every token to lower case.
func LowercaseFilter(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}

// AsciiFilter keeps only the ASCII runes of each token and drops tokens
// left empty. Non-ASCII letters are removed, not transliterated: "café"
// becomes "caf".
func AsciiFilter(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		var b strings.Builder
		for _, r := range t {
			if r < unicode.MaxASCII {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}

// NGramFilter expands each token into overlapping substrings of length n,
// used for partial-match search analyzers.
func NGramFilter(n int) Filter {
	return func(tokens []string) []string {
		var out []string
		for _, t := range tokens {
			r := []rune(t)
			if len(r) <= n {
				out = append(out, t)
				continue
			}
			for i := 0; i+n <= len(r); i++ {
				out = append(out, string(r[i:i+n]))
			}
		}
		return out
	}
}

// SnowballStemFilter applies a minimal Porter/Snowball-style suffix
// stripper. This is not a full Snowball port (no pack example vendors
// one); it captures the common English plural/verb suffixes.
func SnowballStemFilter(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = stemEnglish(t)
	}
	return out
}

func stemEnglish(word string) string {
	suffixes := []string{"ational", "ization", "fulness", "ousness", "iveness",
		"ing", "edly", "ed", "ies", "es", "s"}
	for _, suf := range suffixes {
		if strings.HasSuffix(word, suf) && len(word) > len(suf)+2 {
			return strings.TrimSuffix(word, suf)
		}
	}
	return word
}

// Analyzer chains Tokenize with a sequence of Filters, matching the
// per-indexed-field pipeline of spec.md §4.G.
type Analyzer struct {
	Filters []Filter
}

// Analyze runs the full tokenise->filter pipeline over text.
func (a *Analyzer) Analyze(text string) []string {
	tokens := Tokenize(text)
	for _, f := range a.Filters {
		tokens = f(tokens)
	}
	return tokens
}

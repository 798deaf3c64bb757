package textprep

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func defaultAbbreviations() map[string]bool {
	words := []string{
		// Titles
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st", "mt",
		"gen", "gov", "sen", "rep", "rev", "ph.d", "m.d",

		// Latin and reference
		"e.g", "i.e", "cf", "vs", "fig", "approx",
	}

	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

// Sentences splits text into sentences. A sentence ends at terminal
// punctuation, together with any closing quotes or brackets, that is
// followed by whitespace and a word that does not start in lowercase.
// Decimals, URLs, ellipses, initials and common abbreviations do not end a
// sentence.
func (p *Parser) Sentences(text string) []string {
	runes := []rune(Normalize(text))

	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}

		end := i + 1
		for end < len(runes) && (isTerminal(runes[end]) || isCloser(runes[end])) {
			end++
		}

		if p.endsSentence(runes, i, end) {
			if s := strings.TrimSpace(string(runes[start:end])); s != "" {
				out = append(out, s)
			}
			start = end
		}
		i = end - 1
	}

	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// endsSentence reports whether the punctuation run runes[first:end] closes
// a sentence.
func (p *Parser) endsSentence(runes []rune, first, end int) bool {
	if end == len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[end]) {
		return false
	}

	next := end
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next < len(runes) && unicode.IsLower(runes[next]) {
		return false
	}

	run := string(runes[first:end])
	if strings.Contains(run, "..") || strings.ContainsRune(run, '…') {
		return false
	}

	if runes[first] == '.' {
		word := wordBefore(runes, first)
		if p.abbreviations[strings.ToLower(word)] {
			return false
		}
		// Initials such as "J. R. R. Tolkien"
		if r, size := utf8.DecodeRuneInString(word); size == len(word) && unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// wordBefore returns the word ending just before pos, without leading
// opening punctuation.
func wordBefore(runes []rune, pos int) string {
	start := pos
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	return strings.TrimLeft(string(runes[start:pos]), "\"'([“‘«")
}

// Segment splits text into pieces of at most maxRunes runes for separate
// synthesis requests. Whole sentences are packed together where they fit;
// a longer sentence is wrapped at the last space before the limit, or cut
// hard if it has none. A maxRunes of zero or less returns the normalized
// text as one segment.
func (p *Parser) Segment(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		if s := Normalize(text); s != "" {
			return []string{s}
		}
		return nil
	}

	var (
		segments []string
		cur      strings.Builder
		curLen   int
	)
	flush := func() {
		if curLen > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, sentence := range p.Sentences(text) {
		for _, piece := range wrap(sentence, maxRunes) {
			n := utf8.RuneCountInString(piece)
			if curLen > 0 && curLen+1+n > maxRunes {
				flush()
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(piece)
			curLen += n
		}
	}
	flush()

	return segments
}

// wrap breaks s into pieces of at most limit runes.
func wrap(s string, limit int) []string {
	r := []rune(s)

	var pieces []string
	for len(r) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if r[i] == ' ' {
				cut = i
				break
			}
		}

		if cut > 0 {
			pieces = append(pieces, string(r[:cut]))
			r = r[cut+1:]
		} else {
			pieces = append(pieces, string(r[:limit]))
			r = r[limit:]
		}
	}
	if len(r) > 0 {
		pieces = append(pieces, string(r))
	}
	return pieces
}

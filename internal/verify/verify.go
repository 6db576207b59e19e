// Package verify confirms and strips the spoken wake phrase from transcripts.
//
// Speech recognition rarely spells the wake phrase the way the wake-word
// model names it: "hey_earshot" comes back as "Hey Earshot,", "hey air shot"
// or "hey here shot". The verifier matches transcript prefixes against the
// configured phrase using Double Metaphone phonetic codes combined with
// Jaro-Winkler similarity, so the command handed to intent inference carries
// no wake-phrase residue.
package verify

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Verifier].
type Option func(*Verifier)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-overlapping token to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(v *Verifier) { v.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for a token
// with no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(v *Verifier) { v.fuzzyThreshold = threshold }
}

// Verifier matches and strips one wake phrase. Read-only after construction,
// safe for concurrent use.
type Verifier struct {
	phrase       string
	phraseTokens []string

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New builds a Verifier for the given wake word identifier. Underscores in
// the identifier separate the spoken words ("hey_earshot" → "hey earshot").
func New(wakeWord string, opts ...Option) *Verifier {
	phrase := strings.ToLower(strings.ReplaceAll(wakeWord, "_", " "))
	v := &Verifier{
		phrase:            phrase,
		phraseTokens:      strings.Fields(phrase),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Phrase returns the spoken form of the wake phrase.
func (v *Verifier) Phrase() string {
	return v.phrase
}

// HasPrefix reports whether the transcript begins with the wake phrase,
// allowing for phonetic misrecognitions.
func (v *Verifier) HasPrefix(transcript string) bool {
	tokens := tokenize(transcript)
	return v.prefixLen(tokens) > 0
}

// Strip removes the wake phrase from the start of the transcript and returns
// the remaining command text. When the transcript does not begin with the
// phrase it is returned unchanged; when it is nothing but the phrase, the
// result is empty.
func (v *Verifier) Strip(transcript string) string {
	words := strings.Fields(transcript)
	consumed := v.prefixLen(tokenize(transcript))
	if consumed == 0 {
		return transcript
	}
	rest := strings.Join(words[consumed:], " ")
	return strings.TrimLeft(rest, " ,.;:!?-")
}

// prefixLen returns how many transcript tokens the wake phrase consumes, or 0
// when the transcript does not begin with the phrase. Each phrase word may be
// recognised as one transcript token or split across two ("earshot" heard as
// "air shot").
func (v *Verifier) prefixLen(tokens []string) int {
	i := 0
	for _, pt := range v.phraseTokens {
		if i >= len(tokens) {
			return 0
		}
		if v.tokenMatches(pt, tokens[i]) {
			i++
			continue
		}
		if i+1 < len(tokens) && v.tokenMatches(pt, tokens[i]+tokens[i+1]) {
			i += 2
			continue
		}
		return 0
	}
	return i
}

// tokenMatches decides whether a recognised token is the given phrase word:
// either the Double Metaphone codes overlap and the Jaro-Winkler score clears
// the phonetic threshold, or with no phonetic overlap the score clears the
// stricter fuzzy threshold.
func (v *Verifier) tokenMatches(phraseWord, token string) bool {
	if token == phraseWord {
		return true
	}
	score := matchr.JaroWinkler(token, phraseWord, false)
	if codesOverlap(metaphoneCodes(token), metaphoneCodes(phraseWord)) {
		return score >= v.phoneticThreshold
	}
	return score >= v.fuzzyThreshold
}

// tokenize lowercases the transcript and trims punctuation from token edges.
func tokenize(transcript string) []string {
	words := strings.Fields(strings.ToLower(transcript))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ",.;:!?-\"'")
		out = append(out, w)
	}
	return out
}

// metaphoneCodes returns the non-empty Double Metaphone codes for a word.
func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// Package analysis implements the local scoring layers of the Palisade
// pipeline: stylometric feature extraction, the heuristic rule engine,
// the logistic stylometric model, and the fusion blender that combines
// local scores with external signal providers.
package analysis

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Feature names. The stylometric model and the rule engine both key off
// these, and the YAML weights file uses them verbatim.
const (
	FeatAvgTokenLength  = "avg_token_length"
	FeatMATTR           = "mattr"
	FeatHapaxRatio      = "hapax_ratio"
	FeatSentenceLenVar  = "sentence_length_var"
	FeatBurstiness      = "burstiness"
	FeatFunctionWords   = "function_word_ratio"
	FeatUppercaseRatio  = "uppercase_ratio"
	FeatRepetitionRate  = "repetition_rate"
	FeatEntropy         = "entropy"
	FeatReadability     = "readability_score"
	FeatPunctVariety    = "punctuation_variety"
	FeatVocabRichness   = "vocabulary_richness"
)

// FeatureVector maps feature names to raw statistic values. Computed once
// per intake and never mutated afterwards.
type FeatureVector map[string]float64

// mattrWindow is the moving-window size for the type/token ratio. Texts
// shorter than the window fall back to a whole-text ratio.
const mattrWindow = 50

var tokenPattern = regexp.MustCompile(`[\pL\pN][\pL\pN'_-]*`)

// functionWords is a closed set of high-frequency English function words.
// A depressed function-word ratio correlates with templated text.
var functionWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "to": {}, "of": {}, "and": {}, "in": {},
	"that": {}, "is": {}, "for": {}, "on": {}, "with": {}, "as": {}, "by": {},
	"at": {}, "from": {}, "but": {}, "not": {}, "or": {}, "be": {},
	"have": {}, "do": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"may": {}, "might": {},
}

// punctReference is the fixed reference set for punctuation-type diversity.
const punctReference = `!?.;,:-–—()"`

// ExtractFeatures computes the full stylometric feature vector for a text.
// It is pure and deterministic, and degenerate input (empty text, no
// sentence boundaries, a single token) yields neutral zero-valued features
// rather than an error. Every ratio is clamped so downstream consumers
// never see negatives or NaN.
func ExtractFeatures(text string) FeatureVector {
	fv := FeatureVector{
		FeatAvgTokenLength: 0, FeatMATTR: 0, FeatHapaxRatio: 0,
		FeatSentenceLenVar: 0, FeatBurstiness: 0, FeatFunctionWords: 0,
		FeatUppercaseRatio: 0, FeatRepetitionRate: 0, FeatEntropy: 0,
		FeatReadability: 0, FeatPunctVariety: 0, FeatVocabRichness: 0,
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return fv
	}
	lower := make([]string, len(tokens))
	totalChars := 0
	for i, t := range tokens {
		lower[i] = strings.ToLower(t)
		totalChars += len([]rune(t))
	}
	n := float64(len(tokens))

	fv[FeatAvgTokenLength] = float64(totalChars) / n
	fv[FeatMATTR] = movingTypeTokenRatio(lower)
	fv[FeatHapaxRatio] = hapaxRatio(lower)
	fv[FeatFunctionWords] = functionWordRatio(lower)
	fv[FeatUppercaseRatio] = uppercaseRatio(tokens)
	fv[FeatRepetitionRate] = trigramRepetition(lower)
	fv[FeatEntropy] = CharEntropy(text)
	fv[FeatPunctVariety] = punctuationVariety(text)
	fv[FeatVocabRichness] = vocabularyRichness(lower)

	sentences := SplitSentences(text)
	lengths := make([]float64, 0, len(sentences))
	for _, s := range sentences {
		if c := len(strings.Fields(s)); c > 0 {
			lengths = append(lengths, float64(c))
		}
	}
	if len(lengths) >= 2 {
		mean, variance := meanVariance(lengths)
		fv[FeatSentenceLenVar] = variance
		if mean > 0 {
			fv[FeatBurstiness] = math.Min(math.Sqrt(variance)/mean, 1.0)
		}
	}

	avgWordsPerSentence := n
	if len(lengths) > 0 {
		avgWordsPerSentence = n / float64(len(lengths))
	}
	avgCharsPerWord := float64(totalChars) / n
	fv[FeatReadability] = math.Max(0, 4.71*avgCharsPerWord+0.5*avgWordsPerSentence-21.43)

	return fv
}

// Tokenize splits text into word tokens, keeping internal apostrophes and
// hyphens so contractions and compounds stay whole.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

// SplitSentences segments text on `.?!` followed by whitespace. A period is
// not treated as a boundary when it terminates a single-letter initial or a
// dotted abbreviation ("e.g.", "U.S."). This is an approximation, not a
// full boundary detector; the coherence heuristic thresholds were tuned
// against it.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && isAbbreviationTail(runes, i) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// isAbbreviationTail reports whether the period at index i looks like part
// of an abbreviation rather than a sentence end: the preceding word is a
// single letter, a title-case two-letter abbreviation ("Dr", "Mr"), or
// itself contains an interior period ("e.g", "U.S").
func isAbbreviationTail(runes []rune, i int) bool {
	end := i
	start := end
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	word := runes[start:end]
	letters := 0
	dotted := false
	for _, r := range word {
		if unicode.IsLetter(r) {
			letters++
		} else if r == '.' {
			dotted = true
		}
	}
	if letters == 1 || dotted {
		return true
	}
	return len(word) == 2 && unicode.IsUpper(word[0]) && unicode.IsLower(word[1])
}

// movingTypeTokenRatio computes lexical diversity as the mean type/token
// ratio over overlapping windows advanced by half the window size. The
// trailing partial windows are averaged in too, so the end of the text
// carries the same weight as the start. Short texts use a single
// whole-text ratio.
func movingTypeTokenRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	if len(tokens) < mattrWindow {
		return typeTokenRatio(tokens)
	}
	step := mattrWindow / 2
	var sum float64
	var windows int
	for start := 0; start < len(tokens); start += step {
		end := start + mattrWindow
		if end > len(tokens) {
			end = len(tokens)
		}
		sum += typeTokenRatio(tokens[start:end])
		windows++
	}
	return sum / float64(windows)
}

func typeTokenRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	types := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		types[t] = struct{}{}
	}
	return float64(len(types)) / float64(len(tokens))
}

func hapaxRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	hapax := 0
	for _, c := range freq {
		if c == 1 {
			hapax++
		}
	}
	return float64(hapax) / float64(len(tokens))
}

func functionWordRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, t := range tokens {
		if _, ok := functionWords[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// uppercaseRatio counts fully uppercase tokens of length > 1, the
// SHOUTING style marker. Single capitals like "I" or "A" don't count.
func uppercaseRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, t := range tokens {
		runes := []rune(t)
		if len(runes) <= 1 {
			continue
		}
		upper := true
		hasLetter := false
		for _, r := range runes {
			if unicode.IsLetter(r) {
				hasLetter = true
				if !unicode.IsUpper(r) {
					upper = false
					break
				}
			}
		}
		if upper && hasLetter {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// trigramRepetition is 1 minus the distinct/total ratio over word
// trigrams. Texts with fewer than three tokens score 0.
func trigramRepetition(tokens []string) float64 {
	if len(tokens) < 3 {
		return 0
	}
	total := len(tokens) - 2
	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		seen[tokens[i]+"\x00"+tokens[i+1]+"\x00"+tokens[i+2]] = struct{}{}
	}
	return 1.0 - float64(len(seen))/float64(total)
}

// CharEntropy computes character-level Shannon entropy over the raw text.
func CharEntropy(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	freq := make(map[rune]int, 64)
	for _, r := range runes {
		freq[r]++
	}
	total := float64(len(runes))
	var h float64
	for _, c := range freq {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

func punctuationVariety(text string) float64 {
	seen := make(map[rune]struct{}, 8)
	for _, r := range text {
		if strings.ContainsRune(punctReference, r) {
			seen[r] = struct{}{}
		}
	}
	return math.Min(float64(len(seen))/8.0, 1.0)
}

// vocabularyRichness is one minus the Herfindahl concentration index over
// token frequencies: 1.0 means every token is unique, 0.0 means one token
// dominates completely.
func vocabularyRichness(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	n := float64(len(tokens))
	var concentration float64
	for _, c := range freq {
		p := float64(c) / n
		concentration += p * p
	}
	return clamp01(1.0 - concentration)
}

// meanVariance returns the mean and the sample variance (n-1 denominator)
// of xs. Fewer than two samples have zero variance.
func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs) - 1)
	return mean, variance
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Package parser extracts monetary amounts from disclosure filings.
//
// Extraction anchors on keywords such as "donation" or "기부금" and reads the
// first well-formed numeric literal that follows within a bounded window,
// scaling it by the magnitude word after it ("12 million won", "3억원").
package parser

import (
	"html"
	"log/slog"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultWindow is the number of runes after a keyword scanned for an amount
const DefaultWindow = 600

// MaxAmount is the ceiling above which a parsed value is treated as noise (1,000조원)
const MaxAmount int64 = 1_000_000_000_000_000

// DefaultKeywords returns the keyword anchors used when none are configured
func DefaultKeywords() []string {
	return []string{
		"donation", "social contribution", "sponsorship", "contribution",
		"기부금", "기부", "후원금", "후원", "협찬", "사회공헌", "출연금", "장학금", "성금", "기탁",
	}
}

// Extractor is an interface for pulling an amount out of document text
type Extractor interface {
	// ExtractAmount returns the first amount found, or false when the text discloses none
	ExtractAmount(text string) (int64, bool)
}

var (
	tagPattern        = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	numberPattern     = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?`)
	literalPattern    = regexp.MustCompile(`^(?:[0-9]{1,3}(?:,[0-9]{3})+|[0-9]+)(?:\.[0-9]+)?$`)
)

type unit struct {
	word       string
	multiplier int64
	// latin units must end at a word boundary
	latin bool
}

// units is ordered longest word first so "천만원" wins over "천"
var units = func() []unit {
	u := []unit{
		{word: "원", multiplier: 1},
		{word: "won", multiplier: 1, latin: true},
		{word: "krw", multiplier: 1, latin: true},
		{word: "천", multiplier: 1_000},
		{word: "천원", multiplier: 1_000},
		{word: "thousand", multiplier: 1_000, latin: true},
		{word: "만", multiplier: 10_000},
		{word: "만원", multiplier: 10_000},
		{word: "십만", multiplier: 100_000},
		{word: "십만원", multiplier: 100_000},
		{word: "백만", multiplier: 1_000_000},
		{word: "백만원", multiplier: 1_000_000},
		{word: "million", multiplier: 1_000_000, latin: true},
		{word: "천만", multiplier: 10_000_000},
		{word: "천만원", multiplier: 10_000_000},
		{word: "억", multiplier: 100_000_000},
		{word: "억원", multiplier: 100_000_000},
		{word: "billion", multiplier: 1_000_000_000, latin: true},
		{word: "조", multiplier: 1_000_000_000_000},
		{word: "조원", multiplier: 1_000_000_000_000},
		{word: "trillion", multiplier: 1_000_000_000_000, latin: true},
	}
	sort.SliceStable(u, func(i, j int) bool {
		return utf8.RuneCountInString(u[i].word) > utf8.RuneCountInString(u[j].word)
	})
	return u
}()

// countSuffixes mark literals that count things or name dates rather than money
var countSuffixes = []string{"년", "월", "일", "%", "명", "건", "개", "years", "year"}

// Parser is the default Extractor
type Parser struct {
	keywords []string
	window   int
}

// Option configures a Parser
type Option func(*Parser)

// WithKeywords replaces the keyword anchors; blank entries are ignored
func WithKeywords(keywords ...string) Option {
	return func(p *Parser) {
		var kept []string
		for _, k := range keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kept = append(kept, k)
			}
		}
		if len(kept) > 0 {
			p.keywords = kept
		}
	}
}

// WithWindow sets how many runes after an anchor are scanned
func WithWindow(runes int) Option {
	return func(p *Parser) {
		if runes > 0 {
			p.window = runes
		}
	}
}

// New creates a Parser
func New(opts ...Option) *Parser {
	p := &Parser{
		keywords: DefaultKeywords(),
		window:   DefaultWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExtractAmount implements Extractor
func (p *Parser) ExtractAmount(text string) (int64, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return 0, false
	}

	for _, at := range p.anchors(normalized) {
		if v, ok := scanWindow(runeWindow(normalized[at:], p.window)); ok {
			return v, true
		}
	}
	return 0, false
}

// Normalize strips markup, unescapes entities, folds whitespace and lowers ASCII
func Normalize(text string) string {
	t := tagPattern.ReplaceAllString(text, " ")
	t = html.UnescapeString(t)
	t = strings.ReplaceAll(t, "\u00a0", " ")
	t = whitespacePattern.ReplaceAllString(t, " ")
	return strings.ToLower(strings.TrimSpace(t))
}

// anchors returns the byte offsets just past each keyword occurrence, in text order
func (p *Parser) anchors(text string) []int {
	seen := make(map[int]struct{})
	var offsets []int
	for _, kw := range p.keywords {
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], kw)
			if i < 0 {
				break
			}
			end := from + i + len(kw)
			if _, dup := seen[end]; !dup {
				seen[end] = struct{}{}
				offsets = append(offsets, end)
			}
			from = end
		}
	}
	sort.Ints(offsets)
	return offsets
}

func runeWindow(s string, n int) string {
	i := 0
	for count := 0; i < len(s) && count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

// scanWindow returns the first valid amount in window
func scanWindow(window string) (int64, bool) {
	for _, loc := range numberPattern.FindAllStringIndex(window, -1) {
		literal := strings.TrimRight(window[loc[0]:loc[1]], ",")
		if !literalPattern.MatchString(literal) {
			continue
		}
		if loc[0] > 0 {
			// digits glued to a preceding letter are identifiers, not amounts
			if r, _ := utf8.DecodeLastRuneInString(window[:loc[0]]); unicode.IsLetter(r) && r < utf8.RuneSelf {
				continue
			}
		}

		rest := strings.TrimLeft(window[loc[0]+len(literal):], " ")
		if hasCountSuffix(rest) {
			continue
		}

		v, ok := scale(literal, multiplierOf(rest))
		if ok {
			return v, true
		}
	}
	return 0, false
}

func hasCountSuffix(rest string) bool {
	for _, s := range countSuffixes {
		if strings.HasPrefix(rest, s) {
			return true
		}
	}
	return false
}

func multiplierOf(rest string) int64 {
	for _, u := range units {
		if !strings.HasPrefix(rest, u.word) {
			continue
		}
		if u.latin {
			if r, _ := utf8.DecodeRuneInString(rest[len(u.word):]); r != utf8.RuneError && unicode.IsLetter(r) {
				continue
			}
		}
		return u.multiplier
	}
	return 1
}

// scale multiplies literal by multiplier exactly and truncates to whole won
func scale(literal string, multiplier int64) (int64, bool) {
	r, ok := new(big.Rat).SetString(strings.ReplaceAll(literal, ",", ""))
	if !ok {
		return 0, false
	}
	r.Mul(r, new(big.Rat).SetInt64(multiplier))

	v := new(big.Int).Quo(r.Num(), r.Denom())
	if v.Sign() <= 0 {
		return 0, false
	}
	if !v.IsInt64() || v.Int64() > MaxAmount {
		slog.Debug("Discarding implausible amount", "literal", literal, "multiplier", multiplier)
		return 0, false
	}
	return v.Int64(), true
}

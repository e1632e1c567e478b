package scoring

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/harrow-realty/listings-cli/internal/model"
)

// MatchResult grades how well a listing satisfies a free-text criterion.
// Score is in [0,1]: 1.0 exact/strong match, 0.5 partial, 0.0 no match.
type MatchResult struct {
	Score  float64
	Reason string
}

// Matcher evaluates a free-text criterion against a listing. The scoring
// engine's combination logic stays deterministic regardless of which
// matcher variant is plugged in.
type Matcher interface {
	Match(ctx context.Context, criterion string, listing model.Listing) (MatchResult, error)
}

// defaultSynonyms maps criterion keywords to phrases that count as a full
// match when found in listing text.
var defaultSynonyms = map[string][]string{
	"garage":         {"garage", "carport", "covered parking"},
	"backyard":       {"backyard", "back yard", "large yard", "fenced yard"},
	"pool":           {"pool", "swimming pool"},
	"garden":         {"garden", "landscaped"},
	"open floor":     {"open floor", "open concept", "open plan", "open layout"},
	"modern kitchen": {"modern kitchen", "updated kitchen", "renovated kitchen", "chef's kitchen"},
	"transit":        {"transit", "subway", "metro", "train station", "bus line"},
	"new build":      {"new build", "new construction", "newly built"},
	"basement":       {"basement", "lower level"},
	"fireplace":      {"fireplace", "wood stove"},
	"view":           {"view", "overlooking", "panoramic"},
	"quiet":          {"quiet", "cul-de-sac", "dead end street"},
	"schools":        {"school", "school district"},
	"hardwood":       {"hardwood", "wood floors", "wood flooring"},
}

// KeywordMatcher grades criteria by phrase and synonym presence in the
// listing's free-text fields. It is pure and deterministic.
type KeywordMatcher struct {
	synonyms map[string][]string
}

// NewKeywordMatcher creates a matcher with the built-in synonym table.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{synonyms: defaultSynonyms}
}

// NewKeywordMatcherFromFile loads a yaml synonym table (keyword → phrase
// list), merged over the built-in defaults.
func NewKeywordMatcherFromFile(path string) (*KeywordMatcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: read synonyms %s", path)
	}

	var loaded map[string][]string
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, eris.Wrap(err, "scoring: parse synonyms")
	}

	merged := make(map[string][]string, len(defaultSynonyms)+len(loaded))
	for k, v := range defaultSynonyms {
		merged[k] = v
	}
	for k, v := range loaded {
		merged[strings.ToLower(k)] = v
	}
	return &KeywordMatcher{synonyms: merged}, nil
}

// listingText concatenates the free-text fields a criterion is matched
// against.
func listingText(l model.Listing) string {
	parts := []string{l.Description, l.Address, l.Neighborhood, l.PropertyType}
	return strings.ToLower(strings.Join(parts, " "))
}

func (m *KeywordMatcher) Match(_ context.Context, criterion string, listing model.Listing) (MatchResult, error) {
	phrase := strings.ToLower(strings.TrimSpace(criterion))
	if phrase == "" {
		return MatchResult{Score: 0, Reason: "empty criterion"}, nil
	}

	text := listingText(listing)
	if strings.TrimSpace(text) == "" {
		return MatchResult{Score: 0, Reason: "no listing text to match against"}, nil
	}

	// Exact phrase.
	if strings.Contains(text, phrase) {
		return MatchResult{Score: 1.0, Reason: "found " + strconvQuote(phrase) + " in listing text"}, nil
	}

	// Synonym sets: any registered set whose keyword appears in the
	// criterion counts, so "needs a two-car garage" hits the garage set.
	for keyword, phrases := range m.synonyms {
		if !strings.Contains(phrase, keyword) {
			continue
		}
		for _, p := range phrases {
			if strings.Contains(text, strings.ToLower(p)) {
				return MatchResult{Score: 1.0, Reason: "matched synonym " + strconvQuote(p) + " for " + strconvQuote(keyword)}, nil
			}
		}
	}

	// Partial: at least half of the criterion's significant words present.
	words := significantWords(phrase)
	if len(words) > 1 {
		found := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				found++
			}
		}
		if found*2 >= len(words) && found > 0 {
			return MatchResult{Score: 0.5, Reason: "partial match: " + strconvQuote(phrase)}, nil
		}
	}

	return MatchResult{Score: 0, Reason: "no mention of " + strconvQuote(phrase)}, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "with": true, "of": true,
	"and": true, "or": true, "to": true, "in": true, "for": true,
	"near": true, "needs": true, "must": true, "have": true, "has": true,
}

func significantWords(phrase string) []string {
	var out []string
	for _, w := range strings.Fields(phrase) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func strconvQuote(s string) string {
	return `"` + s + `"`
}

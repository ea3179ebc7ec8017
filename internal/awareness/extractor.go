package awareness

import (
	"sort"
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXTRACTION CONFIG
// ═══════════════════════════════════════════════════════════════════════════════

// ExtractionConfig tunes the lexical extractor.
type ExtractionConfig struct {
	// MaxTopics caps the topic list returned per message.
	MaxTopics int
}

// DefaultExtractionConfig returns the stock extraction settings.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{MaxTopics: 5}
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXTRACTOR
// ═══════════════════════════════════════════════════════════════════════════════

// Extractor pulls entities and topics out of raw message text using the
// tables in tables.go. Both methods are pure: they inspect the text and
// return fresh values without touching any context state, so a failed
// message leaves nothing behind.
type Extractor struct {
	maxTopics int
}

// NewExtractor builds an extractor, falling back to defaults for zero values.
func NewExtractor(cfg ExtractionConfig) *Extractor {
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = DefaultExtractionConfig().MaxTopics
	}
	return &Extractor{maxTopics: cfg.MaxTopics}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENTITY EXTRACTION
// ═══════════════════════════════════════════════════════════════════════════════

type entityClaim struct {
	start      int
	end        int
	name       string
	entityType EntityType
	confidence float64
}

// ExtractEntities runs the entity pattern cascade over the text and returns
// the mentions in order of first appearance. Each pattern claims character
// spans; later patterns cannot reclassify or recount a claimed span, so a
// place name caught by the location rule never doubles as a generic named
// entity. Repeat mentions of the same name bump the occurrence count on the
// first mention's record.
func (e *Extractor) ExtractEntities(text string) []EntityMention {
	var claims []entityClaim
	for _, pat := range entityPatterns {
		for _, idx := range pat.re.FindAllStringSubmatchIndex(text, -1) {
			g := pat.group * 2
			start, end := idx[g], idx[g+1]
			if start < 0 || end <= start {
				continue
			}
			if overlapsClaim(claims, start, end) {
				continue
			}
			span := text[start:end]
			if !keepEntitySpan(span) {
				continue
			}
			claims = append(claims, entityClaim{
				start:      start,
				end:        end,
				name:       span,
				entityType: pat.entityType,
				confidence: pat.confidence,
			})
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].start < claims[j].start })

	mentions := make([]EntityMention, 0, len(claims))
	index := make(map[string]*EntityInfo, len(claims))
	for _, cl := range claims {
		if info, ok := index[cl.name]; ok {
			info.Occurrences++
			continue
		}
		info := &EntityInfo{
			Type:        cl.entityType,
			Confidence:  cl.confidence,
			Occurrences: 1,
		}
		index[cl.name] = info
		mentions = append(mentions, EntityMention{Name: cl.name, Info: info})
	}
	return mentions
}

func overlapsClaim(claims []entityClaim, start, end int) bool {
	for _, cl := range claims {
		if start < cl.end && end > cl.start {
			return true
		}
	}
	return false
}

// keepEntitySpan rejects single-word spans that are really function words or
// pronouns, which the capitalized-span rule otherwise picks up at sentence
// starts.
func keepEntitySpan(span string) bool {
	if strings.ContainsRune(span, ' ') {
		return true
	}
	lower := strings.ToLower(span)
	if isStopWord(lower) {
		return false
	}
	if _, isPronoun := classOfToken(lower); isPronoun {
		return false
	}
	return true
}

// ═══════════════════════════════════════════════════════════════════════════════
// TOPIC EXTRACTION
// ═══════════════════════════════════════════════════════════════════════════════

type termCount struct {
	term  string
	count int
	first int
}

// ExtractTopics returns up to MaxTopics topic strings ranked by frequency.
// Unigrams and bigrams are counted over the stop-word-filtered token stream;
// the top bigrams are placed ahead of the top unigrams, then the combined
// list is de-duplicated by substring containment and capped. Ties rank by
// first appearance so the result is stable for identical input.
func (e *Extractor) ExtractTopics(text string) []string {
	words := tokenizeWords(text)
	valid := make([]bool, len(words))
	for i, w := range words {
		valid[i] = len(w) > 2 && !isStopWord(w) && !isNumeric(w)
	}

	uniIndex := make(map[string]*termCount)
	var unigrams []*termCount
	for i, w := range words {
		if !valid[i] {
			continue
		}
		if tc, ok := uniIndex[w]; ok {
			tc.count++
			continue
		}
		tc := &termCount{term: w, count: 1, first: i}
		uniIndex[w] = tc
		unigrams = append(unigrams, tc)
	}

	biIndex := make(map[string]*termCount)
	var bigrams []*termCount
	for i := 0; i+1 < len(words); i++ {
		if !valid[i] || !valid[i+1] {
			continue
		}
		phrase := words[i] + " " + words[i+1]
		if tc, ok := biIndex[phrase]; ok {
			tc.count++
			continue
		}
		tc := &termCount{term: phrase, count: 1, first: i}
		biIndex[phrase] = tc
		bigrams = append(bigrams, tc)
	}

	rankTerms(unigrams)
	rankTerms(bigrams)

	candidates := make([]string, 0, len(bigrams)+len(unigrams))
	for i, tc := range bigrams {
		if i >= 2 {
			break
		}
		candidates = append(candidates, tc.term)
	}
	for i, tc := range unigrams {
		if i >= e.maxTopics {
			break
		}
		candidates = append(candidates, tc.term)
	}

	topics := make([]string, 0, e.maxTopics)
	for _, cand := range candidates {
		if len(topics) >= e.maxTopics {
			break
		}
		if containsTerm(topics, cand) {
			continue
		}
		topics = append(topics, cand)
	}
	return topics
}

func rankTerms(terms []*termCount) {
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		return terms[i].first < terms[j].first
	})
}

// containsTerm reports whether cand duplicates a chosen topic in either
// containment direction, so "basketball" folds into "basketball strategies".
func containsTerm(topics []string, cand string) bool {
	for _, t := range topics {
		if strings.Contains(t, cand) || strings.Contains(cand, t) {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// TOKENIZATION
// ═══════════════════════════════════════════════════════════════════════════════

// tokenizeWords lowercases the text and splits it on anything that is not a
// letter or digit.
func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(w) > 0
}

package awareness

import "regexp"

// The extraction and detection heuristics are table-driven: each table below
// is an ordered list or lookup set consumed by exactly one component. Tuning
// a heuristic means editing a table entry, not a code path.

// ═══════════════════════════════════════════════════════════════════════════════
// STOP WORDS
// ═══════════════════════════════════════════════════════════════════════════════

// stopWords are filtered out of topic candidates and entity spans. The list
// covers common English function words plus conversational fillers that show
// up constantly in chat transcripts.
var stopWords = map[string]bool{
	"a": true, "about": true, "above": true, "after": true, "again": true,
	"all": true, "also": true, "am": true, "an": true, "and": true,
	"any": true, "are": true, "as": true, "at": true, "be": true,
	"because": true, "been": true, "before": true, "being": true, "below": true,
	"between": true, "both": true, "but": true, "by": true, "can": true,
	"could": true, "did": true, "do": true, "does": true, "doing": true,
	"down": true, "during": true, "each": true, "few": true, "for": true,
	"from": true, "further": true, "get": true, "got": true, "had": true,
	"has": true, "have": true, "having": true, "he": true, "her": true,
	"here": true, "hers": true, "him": true, "his": true, "how": true,
	"i": true, "if": true, "in": true, "into": true, "is": true,
	"it": true, "its": true, "just": true, "let": true, "lets": true,
	"like": true, "me": true, "more": true, "most": true, "my": true,
	"name": true, "no": true, "nor": true, "not": true, "now": true,
	"of": true, "off": true, "okay": true, "on": true, "once": true,
	"only": true, "or": true, "other": true, "our": true, "ours": true,
	"out": true, "over": true, "own": true, "really": true, "same": true,
	"she": true, "should": true, "so": true, "some": true, "such": true,
	"than": true, "that": true, "the": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true, "thing": true,
	"things": true, "this": true, "those": true, "through": true, "to": true,
	"too": true, "under": true, "until": true, "up": true, "very": true,
	"was": true, "we": true, "well": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "who": true,
	"whom": true, "why": true, "will": true, "with": true, "would": true,
	"yeah": true, "yes": true, "you": true, "your": true, "yours": true,
}

func isStopWord(w string) bool {
	return stopWords[w]
}

// ═══════════════════════════════════════════════════════════════════════════════
// PRONOUN CLASSES
// ═══════════════════════════════════════════════════════════════════════════════

type pronounKind int

const (
	pronounGendered pronounKind = iota
	pronounNeutral
	pronounPlural
	pronounDemonstrative
	pronounDemonstrativePlural
)

// pronounClass maps a referring token to the resolution strategy it takes
// once the direct lookups miss. Gender is set only for the gendered kind.
type pronounClass struct {
	kind   pronounKind
	gender Gender
}

var pronounClasses = map[string]pronounClass{
	"he":  {kind: pronounGendered, gender: GenderMale},
	"his": {kind: pronounGendered, gender: GenderMale},
	"him": {kind: pronounGendered, gender: GenderMale},

	"she":  {kind: pronounGendered, gender: GenderFemale},
	"her":  {kind: pronounGendered, gender: GenderFemale},
	"hers": {kind: pronounGendered, gender: GenderFemale},

	"it":  {kind: pronounNeutral},
	"its": {kind: pronounNeutral},

	"they":  {kind: pronounPlural},
	"them":  {kind: pronounPlural},
	"their": {kind: pronounPlural},

	"this": {kind: pronounDemonstrative},
	"that": {kind: pronounDemonstrative},

	"these": {kind: pronounDemonstrativePlural},
	"those": {kind: pronounDemonstrativePlural},
}

// classOfToken looks up the pronoun class for an already-normalized token.
func classOfToken(token string) (pronounClass, bool) {
	pc, ok := pronounClasses[token]
	return pc, ok
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENTITY PATTERNS
// ═══════════════════════════════════════════════════════════════════════════════

// entityPattern is one row of the extraction cascade. Group names the capture
// group holding the entity text; 0 means the whole match.
type entityPattern struct {
	re         *regexp.Regexp
	entityType EntityType
	confidence float64
	group      int
}

// entityPatterns run in order and the first pattern to claim a span wins, so
// more specific classifications sit above the generic capitalized-span rule.
// A span already claimed earlier in the same pass is never reclassified or
// double-counted by a later row.
var entityPatterns = []entityPattern{
	{
		re:         regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:st|nd|rd|th)?(?:,\s*\d{4})?\b`),
		entityType: EntityDate,
		confidence: 0.8,
	},
	{
		re:         regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
		entityType: EntityDate,
		confidence: 0.8,
	},
	{
		re:         regexp.MustCompile(`\b(?:in|at|from|to)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
		entityType: EntityLocation,
		confidence: 0.6,
		group:      1,
	},
	{
		re:         regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`),
		entityType: EntityNamed,
		confidence: 0.7,
		group:      1,
	},
}

// ═══════════════════════════════════════════════════════════════════════════════
// SWITCH CUES
// ═══════════════════════════════════════════════════════════════════════════════

// switchCues are the explicit transition phrases, in priority order. Longer
// cues sit above their substrings so "let's talk about" wins over "about".
var switchCues = []string{
	"let's talk about",
	"speaking of",
	"regarding",
	"about",
	"on the topic of",
	"switching to",
}

// cuePattern pairs a cue with its compiled matcher. The matcher requires a
// trailing noun phrase of one to four words; a cue with nothing after it is
// not a switch.
type cuePattern struct {
	cue string
	re  *regexp.Regexp
}

var cuePatterns = compileCues(switchCues)

func compileCues(cues []string) []cuePattern {
	compiled := make([]cuePattern, 0, len(cues))
	for _, cue := range cues {
		re := regexp.MustCompile(`(?i)(?:^|[^a-zA-Z])` + regexp.QuoteMeta(cue) + `\s+([a-zA-Z'][a-zA-Z'-]*(?:\s+[a-zA-Z'][a-zA-Z'-]*){0,3})`)
		compiled = append(compiled, cuePattern{cue: cue, re: re})
	}
	return compiled
}

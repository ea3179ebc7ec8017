package awareness

import "strings"

// ═══════════════════════════════════════════════════════════════════════════════
// DETECTION TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// SwitchReason explains why the detector decided to change contexts. The
// values are wire-stable and surfaced in events and results.
type SwitchReason string

const (
	ReasonExplicitTopicMention SwitchReason = "explicit_topic_mention" // cue phrase named a known topic
	ReasonNewTopicCreation     SwitchReason = "new_topic_creation"     // cue phrase named an unknown topic
	ReasonTopicShiftExisting   SwitchReason = "topic_shift_existing"   // drift toward a context already in history
	ReasonTopicShiftNew        SwitchReason = "topic_shift_new"        // drift with no matching history context
)

// DetectionConfig tunes the implicit-drift check.
type DetectionConfig struct {
	// MinDriftLength is the message length in bytes below which drift is
	// never considered. Short replies rarely carry enough topical signal.
	MinDriftLength int
	// DriftOverlap is the topic-overlap ratio under which a message counts
	// as having drifted away from the active context.
	DriftOverlap float64
}

// DefaultDetectionConfig returns the stock detection thresholds.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MinDriftLength: 50,
		DriftOverlap:   0.3,
	}
}

// Detection is the detector's verdict for one message. Either Target points
// at an existing context to resume, or NewChildName names a child to create
// under the active context. A zero Detection means the active context stays.
type Detection struct {
	Detected     bool
	Target       *Context
	NewChildName string
	Confidence   float64
	Reason       SwitchReason
}

// ═══════════════════════════════════════════════════════════════════════════════
// DETECTOR
// ═══════════════════════════════════════════════════════════════════════════════

// Detector decides whether a message moves the conversation to a different
// context. Explicit cue phrases are checked first and always win; implicit
// topic drift is a weaker signal and only applies to longer messages.
type Detector struct {
	cfg DetectionConfig
}

// NewDetector builds a detector, filling zero config values with defaults.
func NewDetector(cfg DetectionConfig) *Detector {
	def := DefaultDetectionConfig()
	if cfg.MinDriftLength <= 0 {
		cfg.MinDriftLength = def.MinDriftLength
	}
	if cfg.DriftOverlap <= 0 {
		cfg.DriftOverlap = def.DriftOverlap
	}
	return &Detector{cfg: cfg}
}

// Detect examines one message against the active context. topics must be
// the topics extracted from this message; active must carry the topic state
// from before the message so drift is measured against the prior subject.
func (d *Detector) Detect(text string, topics []string, active *Context, history *History) Detection {
	if det, ok := d.detectExplicit(text, active, history); ok {
		return det
	}
	return d.detectDrift(text, topics, active, history)
}

// detectExplicit scans the cue table in priority order. The first cue with a
// trailing noun phrase decides the outcome: resume the history context that
// already carries the phrase's topic, or create a child named after it.
// Naming the topic the conversation is already in is not a switch.
func (d *Detector) detectExplicit(text string, active *Context, history *History) (Detection, bool) {
	for _, cp := range cuePatterns {
		m := cp.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		key := topicKeyFromPhrase(m[1])
		if key == "" {
			continue
		}
		if active.HasTopic(key) || strings.EqualFold(active.Name, key) {
			return Detection{}, true
		}
		if target := history.FindByTopic(key); target != nil && target.ID != active.ID {
			return Detection{
				Detected:   true,
				Target:     target,
				Confidence: 0.8,
				Reason:     ReasonExplicitTopicMention,
			}, true
		}
		return Detection{
			Detected:     true,
			NewChildName: key,
			Confidence:   0.7,
			Reason:       ReasonNewTopicCreation,
		}, true
	}
	return Detection{}, false
}

// detectDrift compares the message topics against the active context's
// topics. Low overlap on a long message implies the subject moved on.
func (d *Detector) detectDrift(text string, topics []string, active *Context, history *History) Detection {
	if len(text) <= d.cfg.MinDriftLength || len(topics) == 0 {
		return Detection{}
	}
	if topicOverlap(topics, active.Topics) >= d.cfg.DriftOverlap {
		return Detection{}
	}
	if target := history.FindByTopic(topics[0]); target != nil && target.ID != active.ID {
		return Detection{
			Detected:   true,
			Target:     target,
			Confidence: 0.6,
			Reason:     ReasonTopicShiftExisting,
		}
	}
	if len(topics) > 1 {
		return Detection{
			Detected:     true,
			NewChildName: topics[0],
			Confidence:   0.5,
			Reason:       ReasonTopicShiftNew,
		}
	}
	return Detection{}
}

// topicOverlap is the share of matching topics relative to the larger list,
// compared case-insensitively.
func topicOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	if denom == 0 {
		return 1.0
	}
	shared := 0
	for _, ta := range a {
		for _, tb := range b {
			if strings.EqualFold(ta, tb) {
				shared++
				break
			}
		}
	}
	return float64(shared) / float64(denom)
}

// topicKeyFromPhrase reduces a captured cue phrase to its topic key: the
// first content word, lowercased. "basketball strategies" keys on
// "basketball"; a phrase of nothing but stop words keys on its last word.
func topicKeyFromPhrase(phrase string) string {
	words := tokenizeWords(phrase)
	if len(words) == 0 {
		return ""
	}
	for _, w := range words {
		if len(w) > 1 && !isStopWord(w) {
			return w
		}
	}
	return words[len(words)-1]
}

package awareness

import "time"

// Importance scoring saturates each factor past these limits. A context
// with 40 entities is not four times more important than one with 10.
const (
	importanceBase     = 0.5
	entitySaturation   = 10
	topicSaturation    = 5
	durationCap        = 10 * time.Minute
	recencyWindow      = 24 * time.Hour
	childrenSaturation = 3
)

// ScoreContext computes a context's importance at the given instant. The
// score starts from a neutral base and adds five capped factors, weighted
// so that recency and entity richness dominate. The result is clamped to
// [0, 1] and recomputed on every persist, so stored importance always
// reflects the moment of the last write.
func ScoreContext(c *Context, now time.Time) float64 {
	score := importanceBase

	entities := float64(len(c.Entities))
	if entities > entitySaturation {
		entities = entitySaturation
	}
	score += entities / entitySaturation * 0.2

	topics := float64(len(c.Topics))
	if topics > topicSaturation {
		topics = topicSaturation
	}
	score += topics / topicSaturation * 0.2

	lifetime := c.LastUpdate.Sub(c.StartTime)
	if lifetime < 0 {
		lifetime = 0
	}
	if lifetime > durationCap {
		lifetime = durationCap
	}
	score += float64(lifetime) / float64(durationCap) * 0.1

	age := now.Sub(c.LastUpdate)
	recency := 1 - float64(age)/float64(recencyWindow)
	if recency < 0 {
		recency = 0
	}
	if recency > 1 {
		recency = 1
	}
	score += recency * 0.3

	children := float64(len(c.Children))
	if children > childrenSaturation {
		children = childrenSaturation
	}
	score += children / childrenSaturation * 0.1

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

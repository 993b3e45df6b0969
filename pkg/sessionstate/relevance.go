package sessionstate

import (
	"sort"
	"strings"
	"time"
)

// Relevance weights. Recency dominates, shared topics next, open work
// last.
const (
	weightRecency = 0.40
	weightTopics  = 0.35
	weightTasks   = 0.25

	// recencyWindow is one week in hours; a session older than this
	// contributes zero recency.
	recencyWindowHours = 168
)

// RelevanceScore rates a prior session against the current topics.
// The result is always in [0,1].
func RelevanceScore(prior Snapshot, priorEnd time.Time, currentTopics []string, now time.Time) float64 {
	hours := now.Sub(priorEnd).Hours()
	recency := 1 - hours/recencyWindowHours
	if recency < 0 {
		recency = 0
	}

	topics := jaccard(prior.HotTopics, currentTopics)

	tasks := float64(len(prior.PendingTasks)) * 0.25
	if tasks > 1 {
		tasks = 1
	}

	return weightRecency*recency + weightTopics*topics + weightTasks*tasks
}

// DecayFactor discounts inherited confidence by age. Applied at read
// time only; persisted confidences never change.
func DecayFactor(priorEnd time.Time, now time.Time, floor float64) float64 {
	hours := now.Sub(priorEnd).Hours()
	if hours < 0 {
		hours = 0
	}
	f := 1 - (hours/recencyWindowHours)*0.4
	if f < floor {
		return floor
	}
	return f
}

func jaccard(a, b []string) float64 {
	sa := toSet(a)
	sb := toSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(sa)+len(sb)-inter)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out[s] = true
		}
	}
	return out
}

// stopWords excluded from hot-topic ranking.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"to": true, "of": true, "in": true, "on": true, "for": true,
	"is": true, "it": true, "at": true, "as": true, "be": true,
	"with": true, "that": true, "this": true, "was": true, "are": true,
	"but": true, "not": true, "have": true, "has": true, "had": true,
	"i": true, "you": true, "we": true, "they": true, "my": true,
	"so": true, "do": true, "did": true, "done": true, "if": true,
}

// HotTopics ranks the most frequent non-stop-word terms in the texts.
func HotTopics(texts []string, limit int) []string {
	counts := map[string]int{}
	firstSeen := map[string]int{}
	order := 0
	for _, text := range texts {
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tok = strings.Trim(tok, ".,:;!?()[]{}\"'`")
			if len(tok) < 3 || stopWords[tok] {
				continue
			}
			if _, ok := counts[tok]; !ok {
				firstSeen[tok] = order
				order++
			}
			counts[tok]++
		}
	}

	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return firstSeen[topics[i]] < firstSeen[topics[j]]
	})
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}

// ActiveProjects derives project names from working-directory paths:
// the segment after a known projects root, or the path base.
func ActiveProjects(dirs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, dir := range dirs {
		name := projectName(dir)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

var projectRoots = []string{"/projects/", "/src/", "/work/", "/repos/"}

func projectName(dir string) string {
	dir = strings.TrimRight(dir, "/")
	if dir == "" {
		return ""
	}
	for _, root := range projectRoots {
		if i := strings.Index(dir, root); i >= 0 {
			rest := dir[i+len(root):]
			if j := strings.Index(rest, "/"); j >= 0 {
				rest = rest[:j]
			}
			if rest != "" {
				return rest
			}
		}
	}
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		return dir[i+1:]
	}
	return dir
}

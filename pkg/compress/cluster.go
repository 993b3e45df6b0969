package compress

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/heliosarchitect/axon/pkg/atoms"
	"github.com/heliosarchitect/axon/pkg/config"
)

// fingerprintLen truncates the sha256 hex digest; 16 hex chars keep the
// collision chance negligible at the scale of one agent's memory.
const fingerprintLen = 16

// Cluster is a transient grouping of memories eligible for distillation.
type Cluster struct {
	ID               string
	MemberIDs        []string
	AvgSimilarity    float64
	DominantCategory string
	TotalTokens      int
	OldestMemberAt   time.Time
	Fingerprint      string
}

// Finder groups eligible memories into similarity neighborhoods.
type Finder struct {
	cfg *config.CompressionConfig
}

// NewFinder creates a cluster finder.
func NewFinder(cfg *config.CompressionConfig) *Finder {
	return &Finder{cfg: cfg}
}

// Find greedily seeds clusters from the oldest unassigned memory. A
// cluster is kept when it has at least ClusterMinMembers, its average
// pairwise similarity clears the threshold, and its token estimate fits
// MaxClusterTokens.
func (f *Finder) Find(members []MemoryRecord) []Cluster {
	assigned := make(map[string]bool, len(members))
	var out []Cluster

	for i := range members {
		seed := members[i]
		if assigned[seed.ID] {
			continue
		}

		group := []MemoryRecord{seed}
		tokens := estimateTokens(seed.Content)
		for j := i + 1; j < len(members); j++ {
			cand := members[j]
			if assigned[cand.ID] {
				continue
			}
			if atoms.Similarity(seed.Content, cand.Content) < f.cfg.ClusterSimilarityThreshold {
				continue
			}
			t := estimateTokens(cand.Content)
			if tokens+t > f.cfg.MaxClusterTokens {
				break
			}
			group = append(group, cand)
			tokens += t
		}

		if len(group) < f.cfg.ClusterMinMembers {
			continue
		}
		avg := avgPairwiseSimilarity(group)
		if avg < f.cfg.ClusterSimilarityThreshold {
			continue
		}

		cl := buildCluster(group, avg, tokens)
		for _, m := range group {
			assigned[m.ID] = true
		}
		out = append(out, cl)
	}
	return out
}

func buildCluster(group []MemoryRecord, avg float64, tokens int) Cluster {
	ids := make([]string, 0, len(group))
	oldest := group[0].Timestamp
	for _, m := range group {
		ids = append(ids, m.ID)
		if m.Timestamp.Before(oldest) {
			oldest = m.Timestamp
		}
	}
	fp := Fingerprint(ids)
	return Cluster{
		ID:               "cluster-" + fp,
		MemberIDs:        ids,
		AvgSimilarity:    avg,
		DominantCategory: dominantCategory(group),
		TotalTokens:      tokens,
		OldestMemberAt:   oldest,
		Fingerprint:      fp,
	}
}

func avgPairwiseSimilarity(group []MemoryRecord) float64 {
	pairs := 0
	sum := 0.0
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			sum += atoms.Similarity(group[i].Content, group[j].Content)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// Fingerprint hashes the sorted member ids, so any permutation of the
// same members produces the same fingerprint.
func Fingerprint(memberIDs []string) string {
	ids := make([]string, len(memberIDs))
	copy(ids, memberIDs)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// topCategories ranks source categories by frequency, ties broken by
// first appearance across the members.
func topCategories(members []MemoryRecord, n int) []string {
	counts := map[string]int{}
	firstSeen := map[string]int{}
	order := 0
	for _, m := range members {
		for _, c := range m.Categories {
			if _, ok := counts[c]; !ok {
				firstSeen[c] = order
				order++
			}
			counts[c]++
		}
	}
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if counts[cats[i]] != counts[cats[j]] {
			return counts[cats[i]] > counts[cats[j]]
		}
		return firstSeen[cats[i]] < firstSeen[cats[j]]
	})
	if len(cats) > n {
		cats = cats[:n]
	}
	return cats
}

func dominantCategory(members []MemoryRecord) string {
	top := topCategories(members, 1)
	if len(top) == 0 {
		return ""
	}
	return top[0]
}

package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MemoryProbe reports system memory pressure from /proc/meminfo.
type MemoryProbe struct {
	MockSupport
	base
	meminfoPath string
}

// NewMemoryProbe creates the system-memory probe. Source ID is "memory".
func NewMemoryProbe(interval time.Duration) *MemoryProbe {
	return &MemoryProbe{
		base:        base{sourceID: "memory", interval: interval},
		meminfoPath: "/proc/meminfo",
	}
}

// Poll parses MemTotal and MemAvailable.
func (p *MemoryProbe) Poll(ctx context.Context) Reading {
	if r, ok := p.mockReading(p.sourceID); ok {
		return r
	}

	f, err := os.Open(p.meminfoPath)
	if err != nil {
		return unavailable(p.sourceID, err)
	}
	defer func() { _ = f.Close() }()

	var totalKB, availKB uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, convErr := strconv.ParseUint(fields[1], 10, 64)
		if convErr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if err := scanner.Err(); err != nil {
		return unavailable(p.sourceID, err)
	}
	if totalKB == 0 {
		return unavailable(p.sourceID, fmt.Errorf("MemTotal missing from %s", p.meminfoPath))
	}

	usedPct := 100 * float64(totalKB-availKB) / float64(totalKB)
	return available(p.sourceID, map[string]any{
		"total_kb":     totalKB,
		"available_kb": availKB,
		"used_pct":     usedPct,
	})
}

package probe

import (
	"context"
	"fmt"
	"syscall"
	"time"
)

// DiskProbe reports free-space percentage for a filesystem path.
type DiskProbe struct {
	MockSupport
	base
	path string
}

// NewDiskProbe creates a disk-usage probe for path. Source ID is
// "disk:<path>".
func NewDiskProbe(path string, interval time.Duration) *DiskProbe {
	return &DiskProbe{
		base: base{sourceID: "disk:" + path, interval: interval},
		path: path,
	}
}

// Poll reads filesystem stats via statfs.
func (p *DiskProbe) Poll(ctx context.Context) Reading {
	if r, ok := p.mockReading(p.sourceID); ok {
		return r
	}

	var st syscall.Statfs_t
	if err := syscall.Statfs(p.path, &st); err != nil {
		return unavailable(p.sourceID, fmt.Errorf("statfs %s: %w", p.path, err))
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	usedPct := 0.0
	if total > 0 {
		usedPct = 100 * float64(total-free) / float64(total)
	}

	return available(p.sourceID, map[string]any{
		"path":        p.path,
		"total_bytes": total,
		"free_bytes":  free,
		"used_pct":    usedPct,
	})
}

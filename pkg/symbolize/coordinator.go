package symbolize

import (
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/samber/lo"
	"github.com/vietanhduong/symbolize-trace/pkg/resolver"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

// Result aggregates one process's symbolization outcome across every
// mapped file. Failed and unmapped addresses are final; nothing is
// retried.
type Result struct {
	Resolved map[uint64]string
	Failed   map[uint64]struct{}
	Unmapped int
	Files    []FileStats
}

// FileStats is the per-file diagnostic breakdown.
type FileStats struct {
	Path     string
	Resolved int
	Failed   int
	Skipped  bool
}

type pendingAddr struct {
	addr   uint64
	region Region
}

// Coordinator groups a process's pending addresses by the mapped file
// covering them and drives one resolver session per file. Files are
// handled one at a time; only the completion callbacks within a
// session run concurrently.
type Coordinator struct {
	client resolver.Client
	index  *RegionIndex
}

func NewCoordinator(client resolver.Client, index *RegionIndex) *Coordinator {
	return &Coordinator{client: client, index: index}
}

// Run resolves every address it can and reports the rest. Per-address
// failures never abort the run.
func (c *Coordinator) Run(addrs []uint64) *Result {
	res := &Result{
		Resolved: make(map[uint64]string),
		Failed:   make(map[uint64]struct{}),
	}

	buckets := make(map[string][]pendingAddr)
	for _, addr := range addrs {
		region, ok := c.index.Lookup(addr)
		if !ok {
			res.Unmapped++
			continue
		}
		buckets[region.File] = append(buckets[region.File], pendingAddr{addr: addr, region: region})
	}
	if res.Unmapped > 0 {
		glog.Warningf("%d addresses fall outside every mapped region", res.Unmapped)
	}

	// Lexicographic file order keeps diagnostics reproducible.
	files := lo.Keys(buckets)
	slices.Sort(files)
	for _, file := range files {
		res.Files = append(res.Files, c.resolveFile(file, buckets[file], res))
	}
	return res
}

// resolveFile runs one session against a single binary and merges its
// outcome into agg after the join barrier.
func (c *Coordinator) resolveFile(path string, batch []pendingAddr, agg *Result) FileStats {
	stats := FileStats{Path: path}

	if !filepath.IsAbs(path) || unix.Access(path, unix.R_OK) != nil {
		glog.Warningf("Skipping unreadable mapped file %q (%d addresses)", path, len(batch))
		return failBatch(&stats, batch, agg)
	}

	// Session-owned state. Completion callbacks may fire from any
	// goroutine and in any order, so every write goes through mu.
	// Join guarantees quiescence before the merge below reads them.
	var (
		mu       sync.Mutex
		resolved = make(map[uint64]string)
		failed   = make(map[uint64]struct{})
	)
	sess, err := c.client.OpenSession(path, func(name string, ok bool, token uint64) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			resolved[token] = name
		} else {
			failed[token] = struct{}{}
		}
	})
	if err != nil {
		glog.Warningf("Failed to open resolver session for %s: %v", path, err)
		return failBatch(&stats, batch, agg)
	}

	submitted := make(map[uint64]struct{}, len(batch))
	for _, p := range batch {
		// Dedupe by absolute address: equal offsets from different
		// regions of the same file are still distinct submissions.
		if _, dup := submitted[p.addr]; dup {
			continue
		}
		submitted[p.addr] = struct{}{}
		sess.SubmitAsync(p.addr - p.region.Start, p.addr)
	}
	sess.Join()

	for addr, name := range resolved {
		agg.Resolved[addr] = name
	}
	for addr := range failed {
		agg.Failed[addr] = struct{}{}
	}
	stats.Resolved, stats.Failed = len(resolved), len(failed)
	glog.Infof("%s: %d resolved, %d failed", path, stats.Resolved, stats.Failed)
	return stats
}

func failBatch(stats *FileStats, batch []pendingAddr, agg *Result) FileStats {
	for _, p := range batch {
		agg.Failed[p.addr] = struct{}{}
	}
	stats.Skipped = true
	stats.Failed = len(lo.UniqBy(batch, func(p pendingAddr) uint64 { return p.addr }))
	return *stats
}

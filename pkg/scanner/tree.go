package scanner

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
)

// TreeResolver expands a pid into itself plus all of its descendants.
type TreeResolver struct {
	runner Runner
	goos   string
	log    log.FieldLogger
}

// NewTreeResolver creates a resolver. Only Runner, GOOS and Logger are used.
func NewTreeResolver(opts Options) *TreeResolver {
	opts = opts.withDefaults()
	return &TreeResolver{runner: opts.Runner, goos: opts.GOOS, log: opts.Logger}
}

// DescendantsOf returns root followed by every descendant in breadth-first
// order. A root that no longer exists, or a failed process listing, yields
// an empty slice.
func (t *TreeResolver) DescendantsOf(ctx context.Context, root int) []int {
	if root <= 0 {
		return []int{}
	}
	c := processTableCommand(t.goos)
	out, err := t.runner.Run(ctx, c.name, c.args...)
	if err != nil {
		t.log.WithError(err).Debug("process table query failed")
		return []int{}
	}
	parents := parsePIDPairs(out)
	if _, ok := parents[root]; !ok {
		return []int{}
	}

	children := make(map[int][]int, len(parents))
	for pid, ppid := range parents {
		if pid != ppid {
			children[ppid] = append(children[ppid], pid)
		}
	}
	for _, kids := range children {
		sort.Ints(kids)
	}

	result := []int{root}
	seen := map[int]bool{root: true}
	for i := 0; i < len(result); i++ {
		for _, child := range children[result[i]] {
			if seen[child] {
				continue
			}
			seen[child] = true
			result = append(result, child)
		}
	}
	return result
}

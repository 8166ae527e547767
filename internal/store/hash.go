package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// ComputeSignatureHash computes a deterministic hash from a symbol's
// identity: name, kind, tree and the targets it evaluates to. Location
// changes do not affect the hash.
func ComputeSignatureHash(name, kind, tree string, evals []*Evaluation) string {
	h := xxh3.New()
	fmt.Fprintf(h, "name:%s\n", name)
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "tree:%s\n", tree)

	keys := make([]string, len(evals))
	for i, ev := range evals {
		keys[i] = fmt.Sprintf("%s:%v:%s", ev.Target, ev.Instance, ev.Value)
	}
	sort.Strings(keys)
	fmt.Fprintf(h, "evals:%s\n", strings.Join(keys, ","))
	return fmt.Sprintf("%016x", h.Sum64())
}

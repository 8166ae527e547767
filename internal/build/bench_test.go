package build

import (
	"context"
	"fmt"
	"testing"

	"github.com/jward/trellis/internal/symbols"
)

// BenchmarkProcessRebuilds_LargeQueue drains a queue of independent files
// through every stage.
func BenchmarkProcessRebuilds_LargeQueue(b *testing.B) {
	ctx := context.Background()
	rec := &recorder{}
	s := New(rec, fakeRegistry{})
	root := symbols.NewRoot(false)
	files := make([]*symbols.Symbol, 2000)
	for i := range files {
		name := fmt.Sprintf("f%d", i)
		files[i] = root.AddNewFile(name, "/proj/"+name+".py")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec.order = rec.order[:0]
		for _, f := range files {
			s.AddToRebuildArch(f)
		}
		if !s.ProcessRebuilds(ctx) {
			b.Fatal("drain stopped")
		}
	}
}

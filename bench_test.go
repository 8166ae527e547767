package trellis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jward/trellis/internal/config"
)

// benchPackages is the number of generated packages; each imports the
// previous one, so an edit at the bottom cascades through the chain.
const benchPackages = 40

// writeBenchTree generates proj/pkgN/{__init__,models}.py under a
// proj/main.py importing the top package, and returns the paths of main
// and of the bottom file.
func writeBenchTree(b *testing.B) (string, string) {
	b.Helper()
	root := filepath.Join(b.TempDir(), "proj")
	for i := range benchPackages {
		dir := filepath.Join(root, fmt.Sprintf("pkg%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.Fatal(err)
		}
		initSrc := "from .models import Base, helper\n"
		models := "class Base:\n    value = 1\n\n    def run(self):\n        return helper(self.value)\n\n\ndef helper(x):\n    return x\n"
		if i > 0 {
			models = fmt.Sprintf("from pkg%d import Base as Parent\n\n\nclass Base(Parent):\n    pass\n\n\ndef helper(x):\n    return Parent().run()\n", i-1)
		}
		if err := os.WriteFile(filepath.Join(dir, "__init__.py"), []byte(initSrc), 0o644); err != nil {
			b.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "models.py"), []byte(models), 0o644); err != nil {
			b.Fatal(err)
		}
	}
	main := filepath.Join(root, "main.py")
	src := fmt.Sprintf("from pkg%d import Base\n\nA = Base()\n", benchPackages-1)
	if err := os.WriteFile(main, []byte(src), 0o644); err != nil {
		b.Fatal(err)
	}
	return main, filepath.Join(root, "pkg0", "models.py")
}

func newBenchSession(b *testing.B) *Session {
	b.Helper()
	s, err := New(config.Default(), WithLogger(quietLogger()))
	if err != nil {
		b.Fatal(err)
	}
	if err := s.Init(context.Background()); err != nil {
		s.Close()
		b.Fatal(err)
	}
	return s
}

// BenchmarkIndexFiles measures a cold build of the generated tree.
func BenchmarkIndexFiles(b *testing.B) {
	ctx := context.Background()
	main, _ := writeBenchTree(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		s := newBenchSession(b)
		b.StartTimer()

		if err := s.IndexFiles(ctx, []string{main}); err != nil {
			s.Close()
			b.Fatal(err)
		}

		b.StopTimer()
		s.Close()
		b.StartTimer()
	}
}

// BenchmarkProcessRebuilds measures the cascade of an edit at the bottom
// of the import chain.
func BenchmarkProcessRebuilds(b *testing.B) {
	ctx := context.Background()
	main, bottom := writeBenchTree(b)
	s := newBenchSession(b)
	defer s.Close()
	if err := s.IndexFiles(ctx, []string{main}); err != nil {
		b.Fatal(err)
	}
	if err := s.DidOpen(ctx, bottom, nil, 1); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src := fmt.Sprintf("class Base:\n    value = %d\n\n    def run(self):\n        return helper(self.value)\n\n\ndef helper(x):\n    return x\n", i)
		if err := s.DidChange(ctx, bottom, []byte(src), i+2); err != nil {
			b.Fatal(err)
		}
		if s.QueueSize() != 0 {
			b.Fatal("queues not drained")
		}
	}
}

// BenchmarkRefreshEvaluations measures re-evaluating every workspace file.
func BenchmarkRefreshEvaluations(b *testing.B) {
	ctx := context.Background()
	main, _ := writeBenchTree(b)
	s := newBenchSession(b)
	defer s.Close()
	if err := s.IndexFiles(ctx, []string{main}); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.RefreshEvaluations(ctx)
	}
}

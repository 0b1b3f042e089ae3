package walker

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, paths []string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func collect(t *testing.T, opts Options) []string {
	t.Helper()
	out := make(chan Job, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- Walk(opts, out) }()
	var got []string
	for j := range out {
		got = append(got, j.Path[j.BaseOffset:])
	}
	if err := <-errCh; err != nil {
		t.Fatalf("walk: %v", err)
	}
	sort.Strings(got)
	return got
}

func TestWalkUnlimitedDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt", "sub/b.txt", "sub/deep/c.txt"})

	got := collect(t, Options{Root: root, MaxDepth: -1})
	want := []string{"a.txt", "sub/b.txt", "sub/deep/c.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWalkDepthZeroIsRootOnly(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt", "sub/b.txt"})

	got := collect(t, Options{Root: root, MaxDepth: 0})
	want := []string{"a.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWalkDepthOneDescendsOneLevel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt", "sub/b.txt", "sub/deep/c.txt"})

	got := collect(t, Options{Root: root, MaxDepth: 1})
	want := []string{"a.txt", "sub/b.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWalkExcludesMatchingFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt", "skip/x.txt", "keep/b.log"})

	var excluded []string
	got := collect(t, Options{
		Root:         root,
		MaxDepth:     -1,
		ExcludeRegex: regexp.MustCompile(`^skip/|\.log$`),
		OnExclude:    func(path string) { excluded = append(excluded, path) },
	})

	want := []string{"a.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(excluded) != 1 {
		t.Fatalf("expected OnExclude to fire once (for the regular file, not the pruned dir), got %v", excluded)
	}
}

func TestWalkFollowsFileSymlinksButNotDirSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt", "real/b.txt"})

	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link_to_file.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link_to_dir")); err != nil {
		t.Fatalf("symlink dir: %v", err)
	}

	got := collect(t, Options{Root: root, MaxDepth: -1})
	want := []string{"a.txt", "link_to_file.txt", "real/b.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v (file symlink should be followed, dir symlink should not be descended into)", got, want)
	}
}

func TestExtOffsetSkipsLeadingDot(t *testing.T) {
	if off := ExtOffset("/a/.hidden"); off != -1 {
		t.Fatalf("expected -1 for a dotfile with no extension, got %d", off)
	}
	if off := ExtOffset("/a/name.txt"); off == -1 {
		t.Fatalf("expected a valid extension offset")
	} else if rest := "/a/name.txt"[off:]; rest != ".txt" {
		t.Fatalf("expected offset to point at '.txt', got %q", rest)
	}
}

func TestIterateFileListCanonicalizesToAbsolute(t *testing.T) {
	out := make(chan Job, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- IterateFileList(strings.NewReader("a.txt\n\n/abs/b.txt\n"), out) }()

	var got []Job
	for j := range out {
		got = append(got, j)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(got))
	}
	if !filepath.IsAbs(got[0].Path) || filepath.Base(got[0].Path) != "a.txt" {
		t.Fatalf("expected a.txt to be canonicalized to an absolute path, got %q", got[0].Path)
	}
	if got[1].Path != "/abs/b.txt" {
		t.Fatalf("expected an already-absolute path to pass through, got %q", got[1].Path)
	}
}

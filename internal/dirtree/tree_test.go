package dirtree

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
)

func TestBuildFloatsDirectoriesUp(t *testing.T) {
	tree := Build([]string{
		"index.html",
		"style.css",
		"utils/geo.js",
		"draw.js",
		"assets/img/logo.png",
		"utils/utils.js",
	}, Options{})

	got, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"utils":{"geo.js":"utils/geo.js","utils.js":"utils/utils.js"},` +
		`"assets":{"img":{"logo.png":"assets/img/logo.png"}},` +
		`"index.html":"index.html","style.css":"style.css","draw.js":"draw.js"}`
	if string(got) != want {
		t.Fatalf("tree JSON mismatch\nwant=%s\ngot=%s", want, got)
	}
}

func TestDirectoriesPrecedeLeavesAtEveryLevel(t *testing.T) {
	tree := Build([]string{
		"a.txt", "x/b.txt", "x/y/c.txt", "x/d.txt", "x/z/e.txt", "f.txt", "g/h.txt",
	}, Options{})

	var check func(level *Tree, prefix string)
	check = func(level *Tree, prefix string) {
		seenLeaf := false
		for _, node := range level.Nodes() {
			if node.IsDir() {
				if seenLeaf {
					t.Fatalf("directory %s/%s listed after a file", prefix, node.Name)
				}
				check(node.Children, prefix+"/"+node.Name)
				continue
			}
			seenLeaf = true
		}
	}
	check(tree, "")
}

func TestFlattenRoundTrip(t *testing.T) {
	paths := []string{
		"README.md",
		"src/main.js",
		"src/lib/a.js",
		"src/lib/b.js",
		"docs/guide/intro.md",
		"z.txt",
	}
	got := Build(paths, Options{}).Flatten()
	if len(got) != len(paths) {
		t.Fatalf("Flatten() returned %d paths, want %d: %v", len(got), len(paths), got)
	}
	want := append([]string(nil), paths...)
	sort.Strings(want)
	sort.Strings(got)
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("Flatten() = %v, want permutation of %v", got, paths)
		}
	}
}

func TestBuildUsesValuator(t *testing.T) {
	tree := Build([]string{"notes/today.txt"}, Options{
		Valuator: func(path string) any { return int64(len(path)) },
	})
	value, ok := tree.Lookup("notes/today.txt")
	if !ok {
		t.Fatal("expected leaf for notes/today.txt")
	}
	if value.(int64) != int64(len("notes/today.txt")) {
		t.Fatalf("unexpected leaf value %v", value)
	}
}

func TestBuildIgnoresSegments(t *testing.T) {
	tree := Build([]string{".git/HEAD", ".git/refs/heads/main", "index.html", "sub/.git/config"}, Options{
		Ignore: []string{".git"},
	})
	got := tree.Flatten()
	if len(got) != 1 || got[0] != "index.html" {
		t.Fatalf("Flatten() = %v, want only index.html", got)
	}
}

func TestInsertLeafIsIdempotent(t *testing.T) {
	tree := Build([]string{"a/b.txt", "c.txt"}, Options{})
	tree.InsertLeaf("a/b.txt", 1)
	tree.InsertLeaf("a/b.txt", 2)

	if got := len(tree.Flatten()); got != 2 {
		t.Fatalf("expected 2 leaves after re-insert, got %d", got)
	}
	value, _ := tree.Lookup("a/b.txt")
	if value != 2 {
		t.Fatalf("expected overwritten value 2, got %v", value)
	}
}

func TestInsertLeafCreatesIntermediateDirectories(t *testing.T) {
	tree := Build([]string{"index.html", "lib/x.js"}, Options{})
	tree.InsertLeaf("notes/2024/today.txt", int64(0))

	got, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"lib":{"x.js":"lib/x.js"},"notes":{"2024":{"today.txt":0}},"index.html":"index.html"}`
	if string(got) != want {
		t.Fatalf("tree JSON mismatch\nwant=%s\ngot=%s", want, got)
	}
}

func TestInsertLeafAgreesWithRebuild(t *testing.T) {
	paths := []string{"a.txt", "d/e.txt", "b.txt"}
	incremental := Build(paths, Options{})
	incremental.InsertLeaf("d/f/g.txt", "d/f/g.txt")
	incremental.InsertLeaf("c.txt", "c.txt")

	rebuilt := Build(append(paths, "d/f/g.txt", "c.txt"), Options{})

	a, _ := json.Marshal(incremental)
	b, _ := json.Marshal(rebuilt)
	if string(a) != string(b) {
		t.Fatalf("incremental tree diverged from rebuild\nincremental=%s\nrebuilt=%s", a, b)
	}
}

func TestUnmarshalKeepsOrder(t *testing.T) {
	input := `{"notes":{"today.txt":532},"z.txt":1,"a.txt":2}`
	var tree Tree
	if err := json.Unmarshal([]byte(input), &tree); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	out, err := json.Marshal(&tree)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != input {
		t.Fatalf("round trip changed tree\nwant=%s\ngot=%s", input, out)
	}
	value, ok := tree.Lookup("notes/today.txt")
	if !ok || value.(int64) != 532 {
		t.Fatalf("Lookup() = %v, %v", value, ok)
	}
}

func TestWalkListsFilesAndSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"index.html", "notes/today.txt", ".git/HEAD", "notes/deep/x.md"} {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(rel), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	fs := afero.NewBasePathFs(afero.NewOsFs(), root)
	files, err := Walk(fs, []string{".git"})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	sort.Strings(files)
	want := []string{"index.html", "notes/deep/x.md", "notes/today.txt"}
	if len(files) != len(want) {
		t.Fatalf("Walk() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("Walk() = %v, want %v", files, want)
		}
	}
}

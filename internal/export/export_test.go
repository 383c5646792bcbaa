package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aioue/any.down/internal/anydo"
	"github.com/aioue/any.down/internal/extract"
)

const rawBody = `{"models":{"task":{"items":[{"globalTaskId":"g1","title":"buy milk","status":"UNCHECKED","categoryId":"l1","creationDate":1700000000000}]},"category":{"items":[{"id":"l1","name":"Groceries"}]}}}`

func testDataset(t *testing.T) *anydo.Dataset {
	t.Helper()
	ds, err := anydo.DecodeDataset([]byte(rawBody))
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w := NewWriter(t.TempDir(), nil)
	stamp := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	w.nowFn = func() time.Time {
		stamp = stamp.Add(time.Second)
		return stamp
	}
	return w
}

func TestWriteRawFirstExport(t *testing.T) {
	t.Parallel()

	w := newTestWriter(t)
	res, err := w.WriteRaw(testDataset(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Written || res.Path == "" {
		t.Fatalf("expected a write, got %+v", res)
	}
	if filepath.Base(filepath.Dir(res.Path)) != "raw-json" {
		t.Fatalf("raw export in wrong directory: %s", res.Path)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "buy milk") {
		t.Fatal("exported file missing task content")
	}
}

func TestWriteRawSkipsUnchangedContent(t *testing.T) {
	t.Parallel()

	w := newTestWriter(t)
	ds := testDataset(t)

	first, err := w.WriteRaw(ds, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.WriteRaw(ds, first.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if second.Written || second.Path != "" {
		t.Fatalf("unchanged content should not re-export: %+v", second)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Fatal("fingerprint changed for identical content")
	}

	entries, err := os.ReadDir(filepath.Join(w.root, "raw-json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("found %d files, want 1", len(entries))
	}
}

func TestWriteRawEmptyDataset(t *testing.T) {
	t.Parallel()

	w := newTestWriter(t)
	res, err := w.WriteRaw(anydo.EmptyDataset(), "prev-fp")
	if err != nil {
		t.Fatal(err)
	}
	if res.Written {
		t.Fatal("empty dataset should never export")
	}
	if res.Fingerprint != "prev-fp" {
		t.Fatal("empty dataset must not disturb the stored fingerprint")
	}
}

func TestWriteMarkdownRendersTables(t *testing.T) {
	t.Parallel()

	w := newTestWriter(t)
	p := extract.Project(testDataset(t), time.Unix(1700000000, 0).UTC())

	res, err := w.WriteMarkdown(p, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Written {
		t.Fatalf("expected a write, got %+v", res)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	md := string(data)
	for _, want := range []string{"# Any.do Tasks", "## Groceries", "| buy milk |", "1 pending"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestWriteMarkdownFingerprintIgnoresExtractionTime(t *testing.T) {
	t.Parallel()

	w := newTestWriter(t)
	ds := testDataset(t)

	first, err := w.WriteMarkdown(extract.Project(ds, time.Unix(1700000000, 0)), "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.WriteMarkdown(extract.Project(ds, time.Unix(1800000000, 0)), first.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if second.Written {
		t.Fatal("re-projection of identical data should not re-export")
	}
}

func TestWriteAtomicLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	w := newTestWriter(t)
	res, err := w.WriteRaw(testDataset(t), "")
	if err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(res.Path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestMarkdownEscapesTableBreakers(t *testing.T) {
	t.Parallel()

	ds := &anydo.Dataset{
		Lists: []anydo.List{{ID: "l1", Name: "A"}},
		Tasks: []anydo.Task{{
			GlobalID: "g1", Title: "a | b", Status: "UNCHECKED",
			CategoryID: "l1", Note: "line one\nline two",
		}},
	}
	p := extract.Project(ds, time.Now())

	md := renderMarkdown(p)
	if !strings.Contains(md, `a \| b`) {
		t.Fatalf("pipe not escaped:\n%s", md)
	}
	if strings.Contains(md, "line one\nline two") {
		t.Fatal("newline not flattened in table cell")
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 30)
	got := truncateText(long, 40)
	if len(got) > 44 {
		t.Fatalf("truncated text too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("no ellipsis: %q", got)
	}
	if truncateText("short", 40) != "short" {
		t.Fatal("short text should pass through")
	}
}

// Package export writes sync results to disk: the exact server payload as
// timestamped JSON, and a rendered markdown digest of the projection. Both
// writers are gated on content fingerprints so an unchanged dataset never
// produces a new file.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aioue/any.down/internal/anydo"
	"github.com/aioue/any.down/internal/extract"
	"github.com/aioue/any.down/internal/fingerprint"
)

const (
	rawSubdir      = "raw-json"
	markdownSubdir = "markdown"

	noteColumnWidth = 60
)

// Result reports the outcome of one gated write.
type Result struct {
	Path        string // empty when the write was skipped
	Fingerprint string // fingerprint of the current content
	Written     bool
}

// Writer persists sync output under a root directory.
type Writer struct {
	root   string
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewWriter returns a Writer rooted at dir. A nil logger discards.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{root: dir, logger: logger, nowFn: time.Now}
}

// WriteRaw writes the exact server payload as a timestamped JSON file when
// its fingerprint differs from prev. A skip is not an error: the caller gets
// the current fingerprint either way, and only advances its stored one after
// Written is true.
func (w *Writer) WriteRaw(ds *anydo.Dataset, prev string) (Result, error) {
	if ds == nil || ds.Empty || len(ds.Raw) == 0 {
		return Result{Fingerprint: prev}, nil
	}

	fp, err := fingerprint.SumJSON(ds.Raw)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprinting raw dataset: %w", err)
	}
	if !fingerprint.Changed(fp, prev) {
		w.logger.Debug("raw export skipped, content unchanged", "fingerprint", fp[:12])
		return Result{Fingerprint: fp}, nil
	}

	name := fmt.Sprintf("anydo_tasks_raw_%s.json", w.nowFn().Format("20060102_150405"))
	path := filepath.Join(w.root, rawSubdir, name)

	var pretty json.RawMessage = ds.Raw
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("formatting raw dataset: %w", err)
	}
	if err := writeAtomic(path, indented); err != nil {
		return Result{}, err
	}

	w.logger.Info("wrote raw export", "path", path, "bytes", len(indented))
	return Result{Path: path, Fingerprint: fp, Written: true}, nil
}

// WriteMarkdown renders the projection as a markdown digest when its
// fingerprint differs from prev. The fingerprint excludes the extraction
// timestamp so re-running against identical data never re-exports.
func (w *Writer) WriteMarkdown(p *extract.Projection, prev string) (Result, error) {
	if p == nil || p.ExportInfo.TotalTasks == 0 {
		return Result{Fingerprint: prev}, nil
	}

	stable := *p
	stable.ExportInfo.ExtractedAt = ""
	fp, err := fingerprint.Sum(&stable)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprinting projection: %w", err)
	}
	if !fingerprint.Changed(fp, prev) {
		w.logger.Debug("markdown export skipped, content unchanged", "fingerprint", fp[:12])
		return Result{Fingerprint: fp}, nil
	}

	name := fmt.Sprintf("anydo_tasks_%s.md", w.nowFn().Format("20060102_150405"))
	path := filepath.Join(w.root, markdownSubdir, name)

	if err := writeAtomic(path, []byte(renderMarkdown(p))); err != nil {
		return Result{}, err
	}

	w.logger.Info("wrote markdown export", "path", path)
	return Result{Path: path, Fingerprint: fp, Written: true}, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing export: %w", err)
	}
	return nil
}

func renderMarkdown(p *extract.Projection) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Any.do Tasks\n\n")
	fmt.Fprintf(&b, "Exported: %s\n\n", p.ExportInfo.ExtractedAt)
	fmt.Fprintf(&b, "**%d tasks** — %d pending, %d completed\n\n",
		p.ExportInfo.TotalTasks, p.ExportInfo.PendingTasks, p.ExportInfo.CompletedTasks)

	byList := make(map[string][]extract.Item)
	for _, item := range p.DisplayOrder() {
		byList[item.ListName] = append(byList[item.ListName], item)
	}

	for _, listName := range sortedListNames(p) {
		items := byList[listName]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", listName)
		b.WriteString("| Task | Due | Priority | Tags | Note |\n")
		b.WriteString("|------|-----|----------|------|------|\n")
		for _, item := range items {
			writeRow(&b, item, false)
			for _, sub := range item.Subtasks {
				writeRow(&b, sub, true)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

func sortedListNames(p *extract.Projection) []string {
	seen := make(map[string]bool)
	var names []string
	for _, item := range p.DisplayOrder() {
		if !seen[item.ListName] {
			seen[item.ListName] = true
			names = append(names, item.ListName)
		}
	}
	return names
}

func writeRow(b *strings.Builder, item extract.Item, sub bool) {
	title := item.Title
	if item.Completed {
		title = "~~" + title + "~~"
	}
	if sub {
		title = "&nbsp;&nbsp;↳ " + title
	}
	fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n",
		cell(title), cell(item.DueDate), cell(item.Priority),
		cell(strings.Join(item.Tags, ", ")), cell(truncateText(item.Note, noteColumnWidth)))
}

// cell escapes characters that would break a markdown table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > n/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}

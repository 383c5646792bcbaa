package extract

import (
	"testing"
	"time"

	"github.com/aioue/any.down/internal/anydo"
	"github.com/aioue/any.down/internal/fingerprint"
)

func strPtr(s string) *string { return &s }

func sampleDataset() *anydo.Dataset {
	return &anydo.Dataset{
		Lists: []anydo.List{
			{ID: "l1", Name: "Groceries"},
			{ID: "l2", Name: "Work"},
			{ID: "l3", Name: "Old", IsDeleted: true},
		},
		Tasks: []anydo.Task{
			{
				GlobalID:       "g1",
				Title:          "buy milk",
				Status:         "UNCHECKED",
				CategoryID:     "l1",
				CreationDate:   1700000000000,
				LastUpdateDate: 1700000500000,
				DueDate:        1700100000000,
				Labels:         []string{"errand"},
			},
			{
				GlobalID:       "g2",
				ParentGlobalID: strPtr("g1"),
				Title:          "oat milk",
				Status:         "UNCHECKED",
				CategoryID:     "l1",
				CreationDate:   1700000100000,
			},
			{
				GlobalID:     "g3",
				Title:        "ship release",
				Status:       "CHECKED",
				CategoryID:   "l2",
				CreationDate: 1699000000000,
				Note:         "tagged v2.1",
			},
			{
				GlobalID:     "g4",
				Title:        "orphan",
				Status:       "UNCHECKED",
				CategoryID:   "l3",
				CreationDate: 1700000200000,
			},
		},
	}
}

func TestProjectCountsAndLists(t *testing.T) {
	t.Parallel()

	p := Project(sampleDataset(), time.Unix(1700000000, 0).UTC())

	if p.ExportInfo.TotalTasks != 4 {
		t.Fatalf("total = %d, want 4", p.ExportInfo.TotalTasks)
	}
	if p.ExportInfo.PendingTasks != 3 || p.ExportInfo.CompletedTasks != 1 {
		t.Fatalf("pending/completed = %d/%d, want 3/1",
			p.ExportInfo.PendingTasks, p.ExportInfo.CompletedTasks)
	}
	if _, ok := p.Lists["Old"]; ok {
		t.Fatal("deleted list should not appear in summaries")
	}
	groceries := p.Lists["Groceries"]
	if groceries.TaskCount != 2 || groceries.PendingCount != 2 {
		t.Fatalf("Groceries summary = %+v", groceries)
	}
}

func TestProjectNestsSubtasksUnderParent(t *testing.T) {
	t.Parallel()

	p := Project(sampleDataset(), time.Now())

	items := p.Tasks["Groceries"]
	if len(items) != 1 {
		t.Fatalf("Groceries has %d top-level tasks, want 1", len(items))
	}
	parent := items[0]
	if parent.Title != "buy milk" {
		t.Fatalf("parent = %q", parent.Title)
	}
	if len(parent.Subtasks) != 1 || parent.Subtasks[0].Title != "oat milk" {
		t.Fatalf("subtasks = %+v", parent.Subtasks)
	}
}

func TestProjectOrphanedTaskLandsInUnknownList(t *testing.T) {
	t.Parallel()

	p := Project(sampleDataset(), time.Now())

	items := p.Tasks["Unknown List"]
	if len(items) != 1 || items[0].Title != "orphan" {
		t.Fatalf("Unknown List = %+v", items)
	}
}

func TestProjectFormatsMillisTimestamps(t *testing.T) {
	t.Parallel()

	p := Project(sampleDataset(), time.Now())

	parent := p.Tasks["Groceries"][0]
	want := time.UnixMilli(1700100000000).Format("2006-01-02 15:04")
	if parent.DueDate != want {
		t.Fatalf("due date = %q, want %q", parent.DueDate, want)
	}
	if parent.CreatedDate == "" || parent.LastUpdate == "" {
		t.Fatalf("missing formatted timestamps: %+v", parent)
	}
}

func TestProjectUntitledTask(t *testing.T) {
	t.Parallel()

	ds := &anydo.Dataset{Tasks: []anydo.Task{{GlobalID: "g1", Status: "UNCHECKED"}}}
	p := Project(ds, time.Now())

	items := p.Tasks["Unknown List"]
	if len(items) != 1 || items[0].Title != "Untitled Task" {
		t.Fatalf("items = %+v", items)
	}
}

func TestDisplayOrder(t *testing.T) {
	t.Parallel()

	ds := &anydo.Dataset{
		Lists: []anydo.List{{ID: "l1", Name: "A"}},
		Tasks: []anydo.Task{
			{GlobalID: "done-old", Title: "done old", Status: "CHECKED", CategoryID: "l1", CreationDate: 100},
			{GlobalID: "done-new", Title: "done new", Status: "DONE", CategoryID: "l1", CreationDate: 200},
			{GlobalID: "due-late", Title: "due late", Status: "UNCHECKED", CategoryID: "l1", CreationDate: 300, DueDate: 9000},
			{GlobalID: "due-soon", Title: "due soon", Status: "UNCHECKED", CategoryID: "l1", CreationDate: 50, DueDate: 1000},
			{GlobalID: "nodue-old", Title: "no due old", Status: "UNCHECKED", CategoryID: "l1", CreationDate: 10},
			{GlobalID: "nodue-new", Title: "no due new", Status: "UNCHECKED", CategoryID: "l1", CreationDate: 500},
		},
	}

	order := Project(ds, time.Now()).DisplayOrder()

	got := make([]string, len(order))
	for i, it := range order {
		got[i] = it.Title
	}
	want := []string{"due soon", "due late", "no due new", "no due old", "done new", "done old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("display order = %v, want %v", got, want)
		}
	}
}

func TestProjectionFingerprintStableUnderClockDrift(t *testing.T) {
	t.Parallel()

	ds := sampleDataset()
	a := Project(ds, time.Unix(1700000000, 0))
	b := Project(ds, time.Unix(1800000000, 0))

	// ExtractedAt differs, so compare everything else.
	a.ExportInfo.ExtractedAt = ""
	b.ExportInfo.ExtractedAt = ""

	ha, err := fingerprint.Sum(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := fingerprint.Sum(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatal("projection fingerprint changed with wall clock only")
	}
}

func TestProjectNilDataset(t *testing.T) {
	t.Parallel()

	p := Project(nil, time.Now())
	if p.ExportInfo.TotalTasks != 0 || len(p.Tasks) != 0 {
		t.Fatalf("nil dataset projection = %+v", p)
	}
}

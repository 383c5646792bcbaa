// Package extract projects a raw sync dataset into the human-meaningful
// shape used for rendering: export totals, per-list summaries, and parent
// tasks with their subtasks attached. The projection deliberately drops
// machine-only churn (ids, update counters) so its fingerprint only moves
// when something a person would notice changed.
package extract

import (
	"sort"
	"time"

	"github.com/aioue/any.down/internal/anydo"
)

// ExportInfo summarizes a projection.
type ExportInfo struct {
	ExtractedAt    string `json:"extracted_at"`
	TotalTasks     int    `json:"total_tasks"`
	PendingTasks   int    `json:"pending_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
}

// ListSummary counts tasks per list.
type ListSummary struct {
	TaskCount      int `json:"task_count"`
	PendingCount   int `json:"pending_count"`
	CompletedCount int `json:"completed_count"`
}

// Item is one projected task. Subtasks are nested under their parent.
type Item struct {
	Title       string   `json:"title"`
	ListName    string   `json:"list_name"`
	CreatedDate string   `json:"created_date,omitempty"`
	LastUpdate  string   `json:"last_update,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Note        string   `json:"note,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Completed   bool     `json:"completed"`
	Priority    string   `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Subtasks    []Item   `json:"subtasks,omitempty"`

	// Raw timestamps kept for display ordering, excluded from the
	// serialized projection so clock precision does not churn the
	// fingerprint.
	createdAt int64
	dueAt     int64
}

// Projection is the full human-meaningful view of a dataset.
type Projection struct {
	ExportInfo ExportInfo             `json:"export_info"`
	Lists      map[string]ListSummary `json:"lists"`
	Tasks      map[string][]Item      `json:"tasks"`
}

const unknownList = "Unknown List"

// Project builds the projection. Deleted lists are skipped; tasks whose
// list is gone land under "Unknown List". Subtasks are attached to their
// parents sorted by title, and tasks within each list sort by title.
func Project(ds *anydo.Dataset, now time.Time) *Projection {
	p := &Projection{
		ExportInfo: ExportInfo{ExtractedAt: now.Format("2006-01-02 15:04:05")},
		Lists:      make(map[string]ListSummary),
		Tasks:      make(map[string][]Item),
	}
	if ds == nil {
		return p
	}

	listNames := make(map[string]string)
	for _, l := range ds.Lists {
		if l.IsDeleted {
			continue
		}
		listNames[l.ID] = l.Name
		p.Lists[l.Name] = ListSummary{}
	}

	type node struct {
		item     Item
		globalID string
		parentID string
	}

	var parents []node
	children := make(map[string][]Item)

	for _, t := range ds.Tasks {
		listName := unknownList
		if name, ok := listNames[t.CategoryID]; ok {
			listName = name
		}

		item := Item{
			Title:     titleOrDefault(t.Title),
			ListName:  listName,
			Note:      t.Note,
			Tags:      t.Labels,
			Completed: t.Completed(),
			Priority:  t.Priority,
			Assignee:  t.AssignedTo,
			createdAt: t.CreationDate,
			dueAt:     t.DueDate,
		}
		if t.CreationDate != 0 {
			item.CreatedDate = formatMillis(t.CreationDate)
		}
		if t.LastUpdateDate != 0 {
			item.LastUpdate = formatMillis(t.LastUpdateDate)
		}
		if t.DueDate != 0 {
			item.DueDate = formatMillis(t.DueDate)
		}

		p.ExportInfo.TotalTasks++
		if item.Completed {
			p.ExportInfo.CompletedTasks++
		} else {
			p.ExportInfo.PendingTasks++
		}
		if summary, ok := p.Lists[listName]; ok {
			summary.TaskCount++
			if item.Completed {
				summary.CompletedCount++
			} else {
				summary.PendingCount++
			}
			p.Lists[listName] = summary
		}

		if t.ParentGlobalID != nil && *t.ParentGlobalID != "" {
			children[*t.ParentGlobalID] = append(children[*t.ParentGlobalID], item)
			continue
		}
		parents = append(parents, node{item: item, globalID: t.GlobalID})
	}

	for i := range parents {
		subs := children[parents[i].globalID]
		sort.Slice(subs, func(a, b int) bool { return subs[a].Title < subs[b].Title })
		parents[i].item.Subtasks = subs
	}

	for _, n := range parents {
		p.Tasks[n.item.ListName] = append(p.Tasks[n.item.ListName], n.item)
	}
	for name := range p.Tasks {
		items := p.Tasks[name]
		sort.Slice(items, func(a, b int) bool { return items[a].Title < items[b].Title })
		p.Tasks[name] = items
	}

	return p
}

// DisplayOrder flattens every parent task across lists into rendering
// order: pending with due dates first (earliest due first), then pending
// without due dates (newest first), then completed (newest first).
func (p *Projection) DisplayOrder() []Item {
	var all []Item
	for _, items := range p.Tasks {
		all = append(all, items...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Completed != b.Completed {
			return !a.Completed
		}
		if a.Completed {
			return a.createdAt > b.createdAt
		}
		aHasDue, bHasDue := a.dueAt != 0, b.dueAt != 0
		if aHasDue != bHasDue {
			return aHasDue
		}
		if aHasDue {
			if a.dueAt != b.dueAt {
				return a.dueAt < b.dueAt
			}
			return a.createdAt > b.createdAt
		}
		return a.createdAt > b.createdAt
	})
	return all
}

func titleOrDefault(title string) string {
	if title == "" {
		return "Untitled Task"
	}
	return title
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

// Package anydo implements the Any.do protocol client: the multi-step
// authentication state machine, the background-sync engine, and the response
// envelope decoding. Endpoint paths and payload shapes follow the service's
// web client; they are spoken as-is, not re-derived.
package anydo

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultBaseURL is the production API host used by the web client.
const DefaultBaseURL = "https://sm-prod4.any.do"

// Task is one task record from a sync dataset. Timestamps are milliseconds
// since epoch.
type Task struct {
	ID             string   `json:"id"`
	GlobalID       string   `json:"globalTaskId"`
	ParentGlobalID *string  `json:"parentGlobalTaskId"`
	Title          string   `json:"title"`
	Status         string   `json:"status"` // CHECKED, UNCHECKED, DONE
	Priority       string   `json:"priority"`
	CategoryID     string   `json:"categoryId"`
	Note           string   `json:"note"`
	DueDate        int64    `json:"dueDate"`
	CreationDate   int64    `json:"creationDate"`
	LastUpdateDate int64    `json:"lastUpdateDate"`
	AssignedTo     string   `json:"assignedTo"`
	Repeating      string   `json:"repeatingMethod"`
	Labels         []string `json:"labels"`
}

// Completed reports whether the task is checked off.
func (t Task) Completed() bool {
	return t.Status == "CHECKED" || t.Status == "DONE"
}

// List is one list/category record from a sync dataset.
type List struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	IsDefault bool   `json:"isDefault"`
	Position  string `json:"position"`
	IsDeleted bool   `json:"isDeleted"`
}

// Dataset is the decoded result of a sync job. Raw preserves the exact
// server payload for fingerprinting and export; Tasks and Lists are the
// decoded views. An explicitly-empty dataset (server answered "unchanged")
// has Empty set and nil Raw.
type Dataset struct {
	Raw   json.RawMessage
	Tasks []Task
	Lists []List
	Empty bool
}

// EmptyDataset is the "zero changes since last sync" value produced when the
// conditional layer short-circuits a sync. Distinct from a nil dataset.
func EmptyDataset() *Dataset {
	return &Dataset{Empty: true}
}

// ErrUnknownEnvelope is returned when a sync payload matches none of the
// known response shapes.
var ErrUnknownEnvelope = errors.New("unrecognized dataset envelope")

// modelsEnvelope is the modern bg_sync result shape:
// {"models":{"task":{"items":[...]},"category":{"items":[...]}}}
type modelsEnvelope struct {
	Models *struct {
		Task *struct {
			Items []Task `json:"items"`
		} `json:"task"`
		Category *struct {
			Items []List `json:"items"`
		} `json:"category"`
	} `json:"models"`
}

// flatEnvelope is the legacy shape: {"tasks":[...],"categories":[...]}
type flatEnvelope struct {
	Tasks      []Task `json:"tasks"`
	Categories []List `json:"categories"`
}

// DecodeDataset decodes a sync result body against the known envelope
// shapes in order. An unrecognized shape is an explicit error, never a
// silent empty result.
func DecodeDataset(raw []byte) (*Dataset, error) {
	var modern modelsEnvelope
	if err := json.Unmarshal(raw, &modern); err != nil {
		return nil, fmt.Errorf("parsing sync result: %w", err)
	}
	if modern.Models != nil {
		ds := &Dataset{Raw: json.RawMessage(raw)}
		if modern.Models.Task != nil {
			ds.Tasks = modern.Models.Task.Items
		}
		if modern.Models.Category != nil {
			ds.Lists = modern.Models.Category.Items
		}
		return ds, nil
	}

	var legacy flatEnvelope
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("parsing sync result: %w", err)
	}
	if legacy.Tasks != nil || legacy.Categories != nil {
		return &Dataset{
			Raw:   json.RawMessage(raw),
			Tasks: legacy.Tasks,
			Lists: legacy.Categories,
		}, nil
	}

	return nil, fmt.Errorf("%w: body starts %q", ErrUnknownEnvelope, truncate(raw, 60))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

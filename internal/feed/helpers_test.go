package feed

import (
	"time"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// note returns a summary created minute minutes after base.
func note(id string, minute int) NoteSummary {
	return NoteSummary{
		ID:         id,
		CreatedAt:  base.Add(time.Duration(minute) * time.Minute),
		Content:    "note " + id,
		Tags:       []string{},
		ImagePaths: []string{},
	}
}

func snapshot(notes ...NoteSummary) Snapshot { return Snapshot(notes) }

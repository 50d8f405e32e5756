package main

import (
	"time"

	"github.com/orian/configdesk/models"
)

// CommitEvent is the wire form of a commit announced to sinks.
type CommitEvent struct {
	Collection  string    `json:"collection"`
	ConfigID    string    `json:"config_id"`
	VersionID   string    `json:"version_id"`
	NVer        int64     `json:"n_ver"`
	Tag         string    `json:"tag"`
	Comment     string    `json:"comment"`
	CommittedAt time.Time `json:"committed_at"`
}

func newCommitEvent(collection string, rec *models.VersionRecord) CommitEvent {
	return CommitEvent{
		Collection:  collection,
		ConfigID:    rec.ID,
		VersionID:   rec.OID,
		NVer:        rec.NVer,
		Tag:         rec.Tag,
		Comment:     rec.Comment,
		CommittedAt: rec.LastModify,
	}
}

// committedGraph parses the graph payload captured by a version record.
// Records without one yield an empty graph.
func committedGraph(rec *models.VersionRecord) (*models.Graph, error) {
	payload, _ := rec.Fields[models.FieldGraph].(string)
	return models.ParseGraph(payload)
}

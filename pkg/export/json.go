package export

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// Document is the JSON form of an analysis result.
type Document struct {
	RunID     string             `json:"run_id"`
	Source    string             `json:"source"`
	Workflow  timeline.Workflow  `json:"workflow"`
	Origin    time.Time          `json:"origin"`
	Nodes     []NodeSummary      `json:"nodes"`
	Lanes     []LaneRow          `json:"lanes"`
	Activity  []timeline.Sample  `json:"activity"`
	TaskTypes []string           `json:"task_types"`
	Warnings  []timeline.Warning `json:"warnings"`
}

// NodeSummary counts the lanes and excluded jobs of a node.
type NodeSummary struct {
	Node     string   `json:"node"`
	Lanes    int      `json:"lanes"`
	Jobs     int      `json:"jobs"`
	Excluded []string `json:"excluded,omitempty"`
}

// NewDocument builds the JSON document for res.
func NewDocument(res *timeline.Result) Document {
	doc := Document{
		RunID:     res.RunID,
		Source:    res.Source,
		Workflow:  res.Workflow,
		Origin:    res.Origin,
		Lanes:     LaneRows(res),
		Activity:  res.Activity,
		TaskTypes: res.TaskTypes,
		Warnings:  res.Warnings,
	}
	for _, nl := range res.Nodes {
		jobs := 0
		for _, l := range nl.Lanes {
			jobs += len(l.Jobs)
		}
		doc.Nodes = append(doc.Nodes, NodeSummary{
			Node:     nl.Node,
			Lanes:    len(nl.Lanes),
			Jobs:     jobs,
			Excluded: nl.Excluded,
		})
	}
	return doc
}

// WriteJSON encodes the document for res to w.
func WriteJSON(w io.Writer, res *timeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(res))
}

// WriteJSONFile writes the document for res to path.
func WriteJSONFile(path string, res *timeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create json file").WithContext("path", path)
	}
	if err := WriteJSON(f, res); err != nil {
		f.Close()
		return errors.Wrap(err, errors.CodeWriteFailed, "encode json").WithContext("path", path)
	}
	return f.Close()
}

// Package models contains shared data models used across the maskview codebase.
package models

// JobStatus is the backend-owned lifecycle state of an inference job.
// The client only observes it; unknown values are treated as non-terminal.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition can occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ArtifactKind names one of the three image slots of a ResultItem.
type ArtifactKind string

const (
	ArtifactSource       ArtifactKind = "source"
	ArtifactClassMask    ArtifactKind = "class_mask"
	ArtifactInstanceMask ArtifactKind = "instance_mask"
)

// ArtifactKinds lists every slot in display order.
var ArtifactKinds = []ArtifactKind{ArtifactSource, ArtifactClassMask, ArtifactInstanceMask}

// InferenceJob is one backend-tracked inference execution over a dataset.
// Clients poll GET /inferences/{id} until Status is completed or failed.
// Results is only populated once Status is completed and is immutable afterwards.
type InferenceJob struct {
	ID        string       `json:"_id"`
	DatasetID string       `json:"dataset_id"`
	Status    JobStatus    `json:"status"`
	Results   []ResultItem `json:"results,omitempty"`
}

// Normalize drops results reported before completion.
func (j *InferenceJob) Normalize() {
	if j.Status != JobStatusCompleted {
		j.Results = nil
	}
}

// ResultItem is one processed image of a job. All artifact references are
// optional; an item with none of them is valid but renders as placeholders.
type ResultItem struct {
	SourceFilename      string  `json:"source_filename"`
	SourceImageGridFSID *string `json:"source_image_gridfs_id,omitempty"`
	ClassMaskID         *string `json:"class_mask_id,omitempty"`
	InstanceMaskID      *string `json:"instance_mask_id,omitempty"`
}

// Artifact returns the reference stored in the given slot. Empty strings
// count as absent.
func (r ResultItem) Artifact(kind ArtifactKind) (string, bool) {
	var p *string
	switch kind {
	case ArtifactSource:
		p = r.SourceImageGridFSID
	case ArtifactClassMask:
		p = r.ClassMaskID
	case ArtifactInstanceMask:
		p = r.InstanceMaskID
	}
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// Ref is a convenience for building optional artifact references.
func Ref(id string) *string {
	return &id
}

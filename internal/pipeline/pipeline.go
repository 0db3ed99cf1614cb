package pipeline

import (
	"encoding/hex"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
)

// TaskPipeline is an ordered progression of tasks. Immutable after
// construction; accessors return copies.
type TaskPipeline struct {
	id          TaskID
	meta        pipelineMeta
	progression []TaskID
	fingerprint string
}

// PipelineInfo carries the descriptive fields of a base pipeline.
type PipelineInfo struct {
	Description              string
	ProtocolIdentifier       string
	ProtocolShortDescription string
	InputExtensions          []string
}

func NewPipeline(id TaskID, info PipelineInfo, progression []TaskID) (*TaskPipeline, error) {
	if id.IsZero() {
		return nil, &CloneError{Target: id, Reason: "pipeline id is empty"}
	}
	if len(progression) == 0 {
		return nil, &CloneError{Target: id, Reason: "task progression is empty"}
	}
	return newPipeline(id, pipelineMeta{
		Description:              info.Description,
		ProtocolIdentifier:       info.ProtocolIdentifier,
		ProtocolShortDescription: info.ProtocolShortDescription,
		InputExtensions:          normalizeExts(info.InputExtensions),
	}, progression), nil
}

func newPipeline(id TaskID, meta pipelineMeta, progression []TaskID) *TaskPipeline {
	p := &TaskPipeline{
		id:          id,
		meta:        meta,
		progression: slices.Clone(progression),
	}
	p.fingerprint = fingerprint(p.progression)
	return p
}

func (p *TaskPipeline) ID() TaskID { return p.id }

func (p *TaskPipeline) Description() string { return p.meta.Description }

func (p *TaskPipeline) ProtocolIdentifier() string { return p.meta.ProtocolIdentifier }

func (p *TaskPipeline) ProtocolShortDescription() string { return p.meta.ProtocolShortDescription }

func (p *TaskPipeline) InputExtensions() []string { return slices.Clone(p.meta.InputExtensions) }

// TaskProgression returns the ordered task ids.
func (p *TaskPipeline) TaskProgression() []TaskID { return slices.Clone(p.progression) }

func (p *TaskPipeline) Len() int { return len(p.progression) }

// TaskAt returns the task id at index i.
func (p *TaskPipeline) TaskAt(i int) (TaskID, bool) {
	if i < 0 || i >= len(p.progression) {
		return TaskID{}, false
	}
	return p.progression[i], true
}

// Fingerprint identifies the progression: "blake3:" followed by the hex
// digest of the newline-joined task ids.
func (p *TaskPipeline) Fingerprint() string { return p.fingerprint }

// CloneAndConfigure derives a pipeline registered as s.CloneID whose
// progression is exactly the given one.
func (p *TaskPipeline) CloneAndConfigure(s PipelineSettings, progression []TaskID) (*TaskPipeline, error) {
	if s.CloneID.IsZero() {
		return nil, &CloneError{Source: p.id, Target: s.CloneID, Reason: "clone id is empty"}
	}
	if !s.BaseID.IsZero() && s.BaseID != p.id {
		return nil, &CloneError{Source: p.id, Target: s.CloneID, Reason: "settings are based on " + s.BaseID.String()}
	}
	if len(progression) == 0 {
		return nil, &CloneError{Source: p.id, Target: s.CloneID, Reason: "task progression is empty"}
	}
	s.InputExtensions = normalizeExts(s.InputExtensions)
	meta, err := mergeMeta(p.meta, s)
	if err != nil {
		return nil, &CloneError{Source: p.id, Target: s.CloneID, Reason: err.Error()}
	}
	return newPipeline(s.CloneID, meta, progression), nil
}

func fingerprint(progression []TaskID) string {
	ids := make([]string, len(progression))
	for i, id := range progression {
		ids[i] = id.String()
	}
	sum := blake3.Sum256([]byte(strings.Join(ids, "\n")))
	return "blake3:" + hex.EncodeToString(sum[:])
}

package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"dario.cat/mergo"
)

// FactoryOverrides are the factory properties a clone may change. Empty
// strings and a nil Params keep the base factory's setting; AutoRetry and
// Timeout replace it whenever they are set, zero included.
type FactoryOverrides struct {
	StatusName string
	Location   string
	AutoRetry  *int
	Timeout    *time.Duration
	GroupParam string
	// Params are job parameter defaults; clone entries replace base entries by key.
	Params map[string]string
}

// factoryOpts are the resolved settings of one factory.
type factoryOpts struct {
	StatusName string
	Location   string
	AutoRetry  int
	Timeout    time.Duration
	GroupParam string
	Params     map[string]string
}

// FactorySettings describe a clone of BaseID registered as CloneID.
type FactorySettings struct {
	CloneID   TaskID
	BaseID    TaskID
	Overrides FactoryOverrides
}

// PipelineSettings describe a clone of the BaseID pipeline registered as CloneID.
type PipelineSettings struct {
	CloneID                  TaskID
	BaseID                   TaskID
	Description              string
	ProtocolIdentifier       string
	ProtocolShortDescription string
	InputExtensions          []string
}

func (o factoryOpts) clone() factoryOpts {
	o.Params = maps.Clone(o.Params)
	return o
}

func mergeOverrides(base factoryOpts, over FactoryOverrides) (factoryOpts, error) {
	out := base.clone()
	named := factoryOpts{
		StatusName: over.StatusName,
		Location:   over.Location,
		GroupParam: over.GroupParam,
		Params:     maps.Clone(over.Params),
	}
	if err := mergo.Merge(&out, named, mergo.WithOverride); err != nil {
		return factoryOpts{}, fmt.Errorf("merge overrides: %w", err)
	}
	if over.AutoRetry != nil {
		if *over.AutoRetry < 0 {
			return factoryOpts{}, fmt.Errorf("auto retry must not be negative")
		}
		out.AutoRetry = *over.AutoRetry
	}
	if over.Timeout != nil {
		out.Timeout = *over.Timeout
	}
	return out, nil
}

// pipelineMeta is the descriptive part of a pipeline a clone may replace.
type pipelineMeta struct {
	Description              string
	ProtocolIdentifier       string
	ProtocolShortDescription string
	InputExtensions          []string
}

func (m pipelineMeta) clone() pipelineMeta {
	m.InputExtensions = slices.Clone(m.InputExtensions)
	return m
}

func mergeMeta(base pipelineMeta, s PipelineSettings) (pipelineMeta, error) {
	out := base.clone()
	over := pipelineMeta{
		Description:              s.Description,
		ProtocolIdentifier:       s.ProtocolIdentifier,
		ProtocolShortDescription: s.ProtocolShortDescription,
		InputExtensions:          slices.Clone(s.InputExtensions),
	}
	if err := mergo.Merge(&out, over, mergo.WithOverride); err != nil {
		return pipelineMeta{}, fmt.Errorf("merge pipeline settings: %w", err)
	}
	return out, nil
}

// Package graph maintains a small in-memory narrative graph: actor nodes,
// narrative (tag) nodes, and the content that links them. The pipeline
// treats it as opaque enrichment; nothing here feeds back into scoring.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Summary is the snapshot appended to each assessment.
type Summary struct {
	NodeCount          int      `json:"node_count"`
	EdgeCount          int      `json:"edge_count"`
	HighRiskActors     []string `json:"high_risk_actors,omitempty"`
	Communities        int      `json:"communities"`
	CoordinationAlerts []string `json:"coordination_alerts,omitempty"`
	PropagationChains  []string `json:"propagation_chains,omitempty"`
}

type actorState struct {
	contentCount int
	scoreSum     float64
	narratives   map[string]struct{}
	platforms    map[string]struct{}
}

// Engine accumulates intakes into the graph. Safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	actors     map[string]*actorState
	narratives map[string]map[string]struct{} // narrative -> actor set
	contentIDs int
	edges      int
}

func NewEngine() *Engine {
	return &Engine{
		actors:     make(map[string]*actorState),
		narratives: make(map[string]map[string]struct{}),
	}
}

// Ingest adds one classified intake to the graph and returns the updated
// summary. Anonymous intakes (no actor id) still count as content nodes
// but create no actor edges.
func (e *Engine) Ingest(intakeID, actorID, platform string, tags []string, score float64) *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.contentIDs++

	if actorID != "" {
		actor, ok := e.actors[actorID]
		if !ok {
			actor = &actorState{
				narratives: make(map[string]struct{}),
				platforms:  make(map[string]struct{}),
			}
			e.actors[actorID] = actor
		}
		actor.contentCount++
		actor.scoreSum += score
		if platform != "" {
			actor.platforms[platform] = struct{}{}
		}
		e.edges++ // actor -> content

		for _, tag := range tags {
			if tag == "" {
				continue
			}
			if _, seen := actor.narratives[tag]; !seen {
				actor.narratives[tag] = struct{}{}
				e.edges++ // actor -> narrative
			}
			set, ok := e.narratives[tag]
			if !ok {
				set = make(map[string]struct{})
				e.narratives[tag] = set
			}
			set[actorID] = struct{}{}
		}
	}

	return e.summaryLocked()
}

// Snapshot returns the current summary without ingesting anything.
func (e *Engine) Snapshot() *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked()
}

func (e *Engine) summaryLocked() *Summary {
	s := &Summary{
		NodeCount:   e.contentIDs + len(e.actors) + len(e.narratives),
		EdgeCount:   e.edges,
		Communities: len(e.narratives),
	}

	for id, actor := range e.actors {
		if actor.contentCount > 0 && actor.scoreSum/float64(actor.contentCount) > 0.6 {
			s.HighRiskActors = append(s.HighRiskActors, id)
		}
		// An actor spreading the same narratives across 2+ platforms forms
		// a propagation chain.
		if len(actor.platforms) >= 2 && len(actor.narratives) > 0 {
			s.PropagationChains = append(s.PropagationChains,
				fmt.Sprintf("%s spans %d platforms", id, len(actor.platforms)))
		}
	}
	sort.Strings(s.HighRiskActors)
	sort.Strings(s.PropagationChains)

	// Coordination: two or more distinct actors pushing the same narrative.
	for tag, actors := range e.narratives {
		if len(actors) >= 2 {
			s.CoordinationAlerts = append(s.CoordinationAlerts,
				fmt.Sprintf("narrative %q shared by %d actors", tag, len(actors)))
		}
	}
	sort.Strings(s.CoordinationAlerts)
	return s
}

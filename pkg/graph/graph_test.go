package graph

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestEngine_AnonymousContent(t *testing.T) {
	e := NewEngine()
	s := e.Ingest("intake-1", "", "telegram-channel", []string{"election"}, 0.9)

	if s.NodeCount != 1 {
		t.Errorf("node count = %d, want 1 (content only)", s.NodeCount)
	}
	if s.EdgeCount != 0 {
		t.Errorf("edge count = %d, want 0 for anonymous content", s.EdgeCount)
	}
	if len(s.HighRiskActors) != 0 || len(s.CoordinationAlerts) != 0 {
		t.Errorf("anonymous intake should create no actor signals: %+v", s)
	}
}

func TestEngine_ActorAccumulation(t *testing.T) {
	e := NewEngine()
	e.Ingest("intake-1", "actor-a", "telegram-channel", []string{"election"}, 0.8)
	s := e.Ingest("intake-2", "actor-a", "telegram-channel", []string{"election"}, 0.9)

	// 2 content + 1 actor + 1 narrative.
	if s.NodeCount != 4 {
		t.Errorf("node count = %d, want 4", s.NodeCount)
	}
	// 2 actor->content + 1 actor->narrative (deduplicated).
	if s.EdgeCount != 3 {
		t.Errorf("edge count = %d, want 3", s.EdgeCount)
	}
	if len(s.HighRiskActors) != 1 || s.HighRiskActors[0] != "actor-a" {
		t.Errorf("high-risk actors = %v, want [actor-a] at avg 0.85", s.HighRiskActors)
	}
	if s.Communities != 1 {
		t.Errorf("communities = %d, want 1", s.Communities)
	}
}

func TestEngine_HighRiskThreshold(t *testing.T) {
	e := NewEngine()
	// Average exactly 0.6 does not cross the strict threshold.
	e.Ingest("intake-1", "actor-a", "", nil, 0.6)
	s := e.Snapshot()
	if len(s.HighRiskActors) != 0 {
		t.Errorf("avg 0.6 should not flag, got %v", s.HighRiskActors)
	}

	e.Ingest("intake-2", "actor-a", "", nil, 0.9)
	s = e.Snapshot()
	if len(s.HighRiskActors) != 1 {
		t.Errorf("avg 0.75 should flag, got %v", s.HighRiskActors)
	}
}

func TestEngine_CoordinationAlert(t *testing.T) {
	e := NewEngine()
	e.Ingest("intake-1", "actor-a", "telegram-channel", []string{"election"}, 0.5)
	s := e.Snapshot()
	if len(s.CoordinationAlerts) != 0 {
		t.Errorf("single actor should not alert: %v", s.CoordinationAlerts)
	}

	s = e.Ingest("intake-2", "actor-b", "unknown-forum", []string{"election"}, 0.5)
	if len(s.CoordinationAlerts) != 1 {
		t.Fatalf("alerts = %v, want one shared-narrative alert", s.CoordinationAlerts)
	}
	if !strings.Contains(s.CoordinationAlerts[0], `"election"`) || !strings.Contains(s.CoordinationAlerts[0], "2 actors") {
		t.Errorf("alert text = %q", s.CoordinationAlerts[0])
	}

	// The same actor repeating the narrative does not inflate the count.
	s = e.Ingest("intake-3", "actor-a", "telegram-channel", []string{"election"}, 0.5)
	if !strings.Contains(s.CoordinationAlerts[0], "2 actors") {
		t.Errorf("alert should still report 2 actors: %q", s.CoordinationAlerts[0])
	}
}

func TestEngine_PropagationChain(t *testing.T) {
	e := NewEngine()
	e.Ingest("intake-1", "actor-a", "telegram-channel", []string{"health-scare"}, 0.4)
	s := e.Snapshot()
	if len(s.PropagationChains) != 0 {
		t.Errorf("single platform should not chain: %v", s.PropagationChains)
	}

	s = e.Ingest("intake-2", "actor-a", "unknown-forum", []string{"health-scare"}, 0.4)
	if len(s.PropagationChains) != 1 {
		t.Fatalf("chains = %v, want one", s.PropagationChains)
	}
	if !strings.Contains(s.PropagationChains[0], "actor-a") || !strings.Contains(s.PropagationChains[0], "2 platforms") {
		t.Errorf("chain text = %q", s.PropagationChains[0])
	}
}

func TestEngine_EmptyTagsIgnored(t *testing.T) {
	e := NewEngine()
	s := e.Ingest("intake-1", "actor-a", "newspaper", []string{"", "election", ""}, 0.2)
	if s.Communities != 1 {
		t.Errorf("communities = %d, want 1 with empty tags skipped", s.Communities)
	}
}

func TestEngine_DeterministicOrdering(t *testing.T) {
	e := NewEngine()
	for _, actor := range []string{"zulu", "alpha", "mike"} {
		e.Ingest("intake-"+actor, actor, "telegram-channel", []string{"election"}, 0.95)
	}
	s := e.Snapshot()
	want := []string{"alpha", "mike", "zulu"}
	for i := range want {
		if s.HighRiskActors[i] != want[i] {
			t.Errorf("high-risk actors = %v, want sorted %v", s.HighRiskActors, want)
			break
		}
	}
}

func TestEngine_ConcurrentIngest(t *testing.T) {
	e := NewEngine()
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				e.Ingest(fmt.Sprintf("intake-%d-%d", i, j), fmt.Sprintf("actor-%d", i), "telegram-channel", []string{"election"}, 0.5)
			}
		}()
	}
	wg.Wait()

	s := e.Snapshot()
	// 200 content + 10 actors + 1 narrative.
	if s.NodeCount != 211 {
		t.Errorf("node count = %d, want 211", s.NodeCount)
	}
	// 200 actor->content + 10 actor->narrative.
	if s.EdgeCount != 210 {
		t.Errorf("edge count = %d, want 210", s.EdgeCount)
	}
}

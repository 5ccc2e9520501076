package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PalisadeIntel/palisade/pkg/httputil"
)

// GenerationProvider queries an external AI-generation detector that
// returns label/score pairs in the Hugging Face inference shape. The model
// itself is external; this gateway only consumes the scalar.
type GenerationProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewGenerationProvider(endpoint, apiKey string) *GenerationProvider {
	return &GenerationProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   httputil.MediumClient(),
	}
}

func (p *GenerationProvider) Class() Class { return ClassGeneration }

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// machineLabels mark the label as meaning "AI generated"; anything else is
// read as the human class.
var machineLabels = []string{"ai", "fake", "machine", "generated", "gpt"}

// Assess returns the probability that the text is machine generated.
// Detectors answer either a flat label/score list or the nested
// one-list-per-input form; both are accepted.
func (p *GenerationProvider) Assess(ctx context.Context, text string, _ Context) (*Result, error) {
	if p.endpoint == "" {
		return nil, nil
	}
	start := time.Now()

	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation provider call: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		errBody, _ := httputil.ReadErrorBody(resp.Body)
		return nil, fmt.Errorf("generation provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	raw, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("read generation response: %w", err)
	}
	scores, err := parseLabelScores(raw)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("generation provider returned no labels")
	}

	var (
		machineProb float64
		topLabel    string
		topScore    float64
	)
	for _, ls := range scores {
		if ls.Score > topScore {
			topScore = ls.Score
			topLabel = ls.Label
		}
		if isMachineLabel(ls.Label) {
			machineProb = ls.Score
		}
	}
	// A detector that only reports the human class still implies the
	// machine probability.
	if machineProb == 0 && len(scores) == 1 && !isMachineLabel(scores[0].Label) {
		machineProb = 1.0 - scores[0].Score
	}

	res := &Result{
		Class:      ClassGeneration,
		Score:      clamp01(machineProb),
		Confidence: clamp01(topScore),
		Label:      topLabel,
		LatencyMs:  float64(time.Since(start).Milliseconds()),
	}
	res.SetMetadata("labels", len(scores))
	return res, nil
}

func parseLabelScores(raw []byte) ([]labelScore, error) {
	var flat []labelScore
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][]labelScore
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	return nil, fmt.Errorf("decode generation response: unrecognized shape")
}

func isMachineLabel(label string) bool {
	l := strings.ToLower(label)
	for _, m := range machineLabels {
		if strings.Contains(l, m) {
			return true
		}
	}
	return false
}

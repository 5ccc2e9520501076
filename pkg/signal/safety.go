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

// safetyMaxChars is the upstream analyze-text character limit.
const safetyMaxChars = 10000

// SafetyProvider scores content against a harm-category classifier
// (hate, self-harm, sexual, violence) that reports per-category severities
// on a 0-6 scale.
type SafetyProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewSafetyProvider(endpoint, apiKey string) *SafetyProvider {
	return &SafetyProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   httputil.MediumClient(),
	}
}

func (p *SafetyProvider) Class() Class { return ClassSafety }

type safetyResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

// Assess submits the text for harm analysis and folds the per-category
// severities into one harm score: severities normalize by 6, and the
// composite weights the worst category at 60% and the average at 40% so a
// single severe category dominates a spread of mild ones.
func (p *SafetyProvider) Assess(ctx context.Context, text string, _ Context) (*Result, error) {
	if p.endpoint == "" {
		return nil, nil
	}
	start := time.Now()

	if len(text) > safetyMaxChars {
		text = text[:safetyMaxChars]
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal safety request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build safety request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("safety provider call: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		errBody, _ := httputil.ReadErrorBody(resp.Body)
		return nil, fmt.Errorf("safety provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	raw, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("read safety response: %w", err)
	}
	var sr safetyResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode safety response: %w", err)
	}

	var (
		sum         float64
		maxScore    float64
		maxSeverity int
		flagged     []string
	)
	for _, cat := range sr.CategoriesAnalysis {
		score := float64(cat.Severity) / 6.0
		sum += score
		if score > maxScore {
			maxScore = score
		}
		if cat.Severity > maxSeverity {
			maxSeverity = cat.Severity
		}
		// Severity 2 is the moderate line; below that a category is noise.
		if cat.Severity >= 2 {
			flagged = append(flagged, strings.ToLower(cat.Category))
		}
	}

	var harm float64
	if n := len(sr.CategoriesAnalysis); n > 0 {
		harm = 0.6*maxScore + 0.4*(sum/float64(n))
	}

	res := &Result{
		Class:      ClassSafety,
		Score:      clamp01(harm),
		Confidence: 0.85,
		Label:      severityLevel(maxSeverity),
		LatencyMs:  float64(time.Since(start).Milliseconds()),
	}
	if len(flagged) > 0 {
		res.AddReason("Flagged categories: " + strings.Join(flagged, ", "))
	}
	res.SetMetadata("max_severity", maxSeverity)
	return res, nil
}

func severityLevel(maxSeverity int) string {
	switch {
	case maxSeverity >= 4:
		return "critical"
	case maxSeverity >= 2:
		return "high"
	case maxSeverity >= 1:
		return "medium"
	default:
		return "low"
	}
}

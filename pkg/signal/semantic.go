package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PalisadeIntel/palisade/pkg/httputil"
)

// SemanticProvider scores disinformation and manipulation risk through an
// OpenAI-compatible chat completions endpoint in JSON mode. It is the
// highest-weighted signal in the blend and the most expensive, so calls go
// through the slow-tier shared client and the pipeline's per-provider
// deadline.
type SemanticProvider struct {
	endpoint string
	apiKey   string
	model    string
	maxChars int
	client   *http.Client
}

// NewSemanticProvider builds a provider for the given chat completions
// endpoint. maxChars bounds how much content is sent; longer texts keep
// their head and tail with a truncation marker between.
func NewSemanticProvider(endpoint, apiKey, model string, maxChars int) *SemanticProvider {
	if maxChars <= 0 {
		maxChars = 6000
	}
	return &SemanticProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		maxChars: maxChars,
		client:   httputil.SlowClient(),
	}
}

func (p *SemanticProvider) Class() Class { return ClassSemantic }

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// semanticVerdict is the JSON shape the model is instructed to return.
type semanticVerdict struct {
	RiskScore   float64  `json:"risk_score"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	RiskFactors []string `json:"risk_factors"`
	Severity    string   `json:"severity"`
}

// Assess sends the content for semantic risk assessment. Transient
// failures and unparseable responses return an error; the pipeline records
// the signal as absent.
func (p *SemanticProvider) Assess(ctx context.Context, text string, sctx Context) (*Result, error) {
	if p.endpoint == "" {
		return nil, nil
	}
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: semanticSystemPrompt},
			{Role: "user", Content: buildSemanticPrompt(p.truncate(text), sctx)},
		},
		Temperature:    0.3,
		MaxTokens:      800,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal semantic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build semantic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semantic provider call: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		errBody, _ := httputil.ReadErrorBody(resp.Body)
		return nil, fmt.Errorf("semantic provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	raw, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("read semantic response: %w", err)
	}
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode semantic response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("semantic provider returned no choices")
	}

	verdict, err := parseSemanticVerdict(strings.TrimSpace(cr.Choices[0].Message.Content))
	if err != nil {
		return nil, err
	}

	res := &Result{
		Class:      ClassSemantic,
		Score:      clamp01(verdict.RiskScore),
		Confidence: clamp01(verdict.Confidence),
		Label:      verdict.Severity,
		LatencyMs:  float64(time.Since(start).Milliseconds()),
	}
	if verdict.Reasoning != "" {
		res.AddReason(verdict.Reasoning)
	}
	for _, f := range verdict.RiskFactors {
		res.AddReason(f)
	}
	res.SetMetadata("model", p.model)
	return res, nil
}

// truncate keeps the head and tail of overlong content so both the framing
// and the conclusion survive the context window.
func (p *SemanticProvider) truncate(text string) string {
	if len(text) <= p.maxChars {
		return text
	}
	half := p.maxChars / 2
	return text[:half] + "\n\n[... content truncated ...]\n\n" + text[len(text)-half:]
}

const semanticSystemPrompt = "You are an expert counter-disinformation analyst with deep knowledge of " +
	"information operations, manipulation tactics, and content authenticity assessment. " +
	"Provide precise, evidence-based risk assessments with clear reasoning."

func buildSemanticPrompt(snippet string, sctx Context) string {
	var contextInfo string
	if sctx.Platform != "" || sctx.Region != "" || sctx.Source != "" {
		contextInfo = fmt.Sprintf("\n\nContext:\n- Platform: %s\n- Region: %s\n- Source: %s",
			orUnknown(sctx.Platform), orUnknown(sctx.Region), orUnknown(sctx.Source))
	}
	return fmt.Sprintf(`Analyze the following content for disinformation and manipulation risks. Assess:

1. Misinformation and false claims: factual accuracy, verifiability
2. Manipulation tactics: emotional manipulation, urgency, fear-mongering, outrage
3. Coordinated influence: signs of coordinated campaigns, bot-like patterns
4. Malicious intent: phishing, scams, propaganda, radicalization
5. Narrative authenticity: consistency, credibility, source reliability%s

Content to analyze:
%s

Respond with a JSON object: {"risk_score": 0.0-1.0, "confidence": 0.0-1.0, "reasoning": "2-3 sentences", "risk_factors": ["..."], "severity": "low|medium|high|critical"}`,
		contextInfo, snippet)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var riskScorePattern = regexp.MustCompile(`(?i)"?risk_score"?\s*:\s*([0-9]*\.?[0-9]+)`)
var reasoningPattern = regexp.MustCompile(`(?i)"?reasoning"?\s*:\s*"([^"]+)"`)

// parseSemanticVerdict decodes the model's JSON verdict. Models sometimes
// wrap or mangle the JSON, so a regex fallback extracts at least the risk
// score (at reduced confidence) before giving up.
func parseSemanticVerdict(output string) (*semanticVerdict, error) {
	var v semanticVerdict
	if err := json.Unmarshal([]byte(output), &v); err == nil {
		if v.Confidence == 0 {
			v.Confidence = 0.8
		}
		return &v, nil
	}

	m := riskScorePattern.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("semantic verdict not parseable")
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("semantic verdict score not parseable: %w", err)
	}
	log.Printf("[WARN] Semantic provider returned malformed JSON, recovered score via fallback parse")
	v = semanticVerdict{
		RiskScore:  score,
		Confidence: 0.7,
		Severity:   "medium",
	}
	if rm := reasoningPattern.FindStringSubmatch(output); rm != nil {
		v.Reasoning = rm[1]
	}
	return &v, nil
}

package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNominalWeights_SumToOne(t *testing.T) {
	sum := NominalWeight(ClassStylometric) + NominalWeight(ClassBehavioral) +
		NominalWeight(ClassGeneration) + NominalWeight(ClassSemantic) + NominalWeight(ClassSafety)
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("nominal weights sum to %v, want 1.0", sum)
	}
}

func TestProviders_EmptyEndpointMeansUnavailable(t *testing.T) {
	providers := []Provider{
		NewSemanticProvider("", "", "test-model", 0),
		NewSafetyProvider("", ""),
		NewGenerationProvider("", ""),
	}
	for _, p := range providers {
		res, err := p.Assess(context.Background(), "some text", Context{})
		if res != nil || err != nil {
			t.Errorf("%s: unconfigured provider should return (nil, nil), got (%v, %v)", p.Class(), res, err)
		}
	}
}

func TestSemanticProvider_Assess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected message layout: %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "telegram-channel") {
			t.Error("user prompt should carry the source context")
		}

		verdict := `{"risk_score": 0.82, "confidence": 0.9, "reasoning": "Urgency framing with unverifiable claims.", "risk_factors": ["urgency", "unverifiable claims"], "severity": "high"}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": verdict}},
			},
		})
	}))
	defer srv.Close()

	p := NewSemanticProvider(srv.URL, "sk-test", "test-model", 6000)
	res, err := p.Assess(context.Background(), "URGENT share this now", Context{Platform: "telegram-channel", Region: "RU"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q, want Bearer sk-test", gotAuth)
	}
	if res.Class != ClassSemantic {
		t.Errorf("class = %s, want %s", res.Class, ClassSemantic)
	}
	if res.Score != 0.82 {
		t.Errorf("score = %v, want 0.82", res.Score)
	}
	if res.Label != "high" {
		t.Errorf("label = %q, want high", res.Label)
	}
	if len(res.Reasons) != 3 {
		t.Errorf("reasons = %v, want reasoning plus two risk factors", res.Reasons)
	}
}

func TestSemanticProvider_RegexFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Malformed verdict: prose wrapping instead of a JSON object.
		content := `Based on my analysis, "risk_score": 0.65, "reasoning": "Coordinated amplification pattern" and other factors apply.`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	defer srv.Close()

	p := NewSemanticProvider(srv.URL, "", "test-model", 6000)
	res, err := p.Assess(context.Background(), "text", Context{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.Score != 0.65 {
		t.Errorf("fallback score = %v, want 0.65", res.Score)
	}
	if res.Confidence != 0.7 {
		t.Errorf("fallback confidence = %v, want the reduced 0.7", res.Confidence)
	}
	if res.Label != "medium" {
		t.Errorf("fallback label = %q, want medium", res.Label)
	}
	if len(res.Reasons) != 1 || !strings.Contains(res.Reasons[0], "amplification") {
		t.Errorf("fallback reasons = %v, want the recovered reasoning", res.Reasons)
	}
}

func TestSemanticProvider_DefaultConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"risk_score": 0.4, "severity": "medium"}`}},
			},
		})
	}))
	defer srv.Close()

	p := NewSemanticProvider(srv.URL, "", "test-model", 6000)
	res, err := p.Assess(context.Background(), "text", Context{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.Confidence != 0.8 {
		t.Errorf("omitted confidence should default to 0.8, got %v", res.Confidence)
	}
}

func TestSemanticProvider_ErrorPaths(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"upstream 500", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "backend unavailable", http.StatusInternalServerError)
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}},
		{"unparseable verdict", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"content": "no score here at all"}},
				},
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			p := NewSemanticProvider(srv.URL, "", "test-model", 6000)
			if _, err := p.Assess(context.Background(), "text", Context{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSemanticProvider_Truncation(t *testing.T) {
	var gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotContent = req.Messages[1].Content
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"risk_score": 0.1, "confidence": 0.9}`}},
			},
		})
	}))
	defer srv.Close()

	long := strings.Repeat("a", 150) + strings.Repeat("z", 150)
	p := NewSemanticProvider(srv.URL, "", "test-model", 100)
	if _, err := p.Assess(context.Background(), long, Context{}); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !strings.Contains(gotContent, "[... content truncated ...]") {
		t.Error("overlong content should carry the truncation marker")
	}
	// Head and tail both survive.
	if !strings.Contains(gotContent, strings.Repeat("a", 50)) || !strings.Contains(gotContent, strings.Repeat("z", 50)) {
		t.Error("truncation should keep both head and tail")
	}
}

func TestSafetyProvider_Assess(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		json.NewEncoder(w).Encode(map[string]any{
			"categoriesAnalysis": []map[string]any{
				{"category": "Hate", "severity": 4},
				{"category": "Violence", "severity": 2},
				{"category": "SelfHarm", "severity": 0},
				{"category": "Sexual", "severity": 0},
			},
		})
	}))
	defer srv.Close()

	p := NewSafetyProvider(srv.URL, "key-123")
	res, err := p.Assess(context.Background(), "hostile text", Context{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if gotKey != "key-123" {
		t.Errorf("subscription key header = %q, want key-123", gotKey)
	}

	// max = 4/6, avg = (4+2+0+0)/4/6 = 0.25; harm = 0.6*max + 0.4*avg.
	want := 0.6*(4.0/6.0) + 0.4*0.25
	if math.Abs(res.Score-want) > 1e-9 {
		t.Errorf("harm score = %v, want %v", res.Score, want)
	}
	if res.Label != "critical" {
		t.Errorf("label = %q, want critical for max severity 4", res.Label)
	}
	if len(res.Reasons) != 1 || !strings.Contains(res.Reasons[0], "hate") || !strings.Contains(res.Reasons[0], "violence") {
		t.Errorf("reasons = %v, want the severity>=2 categories flagged", res.Reasons)
	}
	if res.Metadata["max_severity"] != 4 {
		t.Errorf("max_severity metadata = %v, want 4", res.Metadata["max_severity"])
	}
}

func TestSafetyProvider_CleanText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"categoriesAnalysis": []map[string]any{
				{"category": "Hate", "severity": 0},
				{"category": "Violence", "severity": 0},
			},
		})
	}))
	defer srv.Close()

	p := NewSafetyProvider(srv.URL, "")
	res, err := p.Assess(context.Background(), "a pleasant note", Context{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.Score != 0 {
		t.Errorf("clean text harm = %v, want 0", res.Score)
	}
	if res.Label != "low" {
		t.Errorf("label = %q, want low", res.Label)
	}
	if len(res.Reasons) != 0 {
		t.Errorf("reasons = %v, want none below the moderate line", res.Reasons)
	}
}

func TestSeverityLevel(t *testing.T) {
	tests := []struct {
		severity int
		want     string
	}{
		{0, "low"},
		{1, "medium"},
		{2, "high"},
		{3, "high"},
		{4, "critical"},
		{6, "critical"},
	}
	for _, tt := range tests {
		if got := severityLevel(tt.severity); got != tt.want {
			t.Errorf("severityLevel(%d) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestGenerationProvider_FlatShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["inputs"] == "" {
			t.Error("request should carry the text under inputs")
		}
		fmt.Fprint(w, `[{"label": "AI-Generated", "score": 0.91}, {"label": "Human", "score": 0.09}]`)
	}))
	defer srv.Close()

	p := NewGenerationProvider(srv.URL, "tok")
	res, err := p.Assess(context.Background(), "suspicious prose", Context{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.Score != 0.91 {
		t.Errorf("machine probability = %v, want 0.91", res.Score)
	}
	if res.Label != "AI-Generated" {
		t.Errorf("label = %q, want the top-scoring label", res.Label)
	}
	if res.Confidence != 0.91 {
		t.Errorf("confidence = %v, want the top score", res.Confidence)
	}
}

func TestGenerationProvider_NestedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[{"label": "fake", "score": 0.3}, {"label": "real", "score": 0.7}]]`)
	}))
	defer srv.Close()

	p := NewGenerationProvider(srv.URL, "")
	res, err := p.Assess(context.Background(), "text", Context{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.Score != 0.3 {
		t.Errorf("machine probability = %v, want 0.3 from the fake label", res.Score)
	}
	if res.Label != "real" {
		t.Errorf("label = %q, want the top-scoring real", res.Label)
	}
}

func TestGenerationProvider_HumanOnlyLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"label": "human", "score": 0.8}]`)
	}))
	defer srv.Close()

	p := NewGenerationProvider(srv.URL, "")
	res, err := p.Assess(context.Background(), "text", Context{})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if math.Abs(res.Score-0.2) > 1e-9 {
		t.Errorf("machine probability = %v, want 1 - human score = 0.2", res.Score)
	}
}

func TestGenerationProvider_BadShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object instead of list", `{"error": "loading"}`},
		{"empty list", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()
			p := NewGenerationProvider(srv.URL, "")
			if _, err := p.Assess(context.Background(), "text", Context{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestProviders_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	providers := []Provider{
		NewSemanticProvider(srv.URL, "", "test-model", 6000),
		NewSafetyProvider(srv.URL, ""),
		NewGenerationProvider(srv.URL, ""),
	}
	for _, p := range providers {
		if _, err := p.Assess(ctx, "text", Context{}); err == nil {
			t.Errorf("%s: cancelled context should surface an error", p.Class())
		}
	}
}

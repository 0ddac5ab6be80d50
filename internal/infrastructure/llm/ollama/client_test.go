package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

func singleAttempt() *resilience.Executor {
	return resilience.NewExecutor(resilience.DefaultConfig().SingleAttempt())
}

func TestClassifySendsJSONModeRequest(t *testing.T) {
	var captured generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"{\"category\":\"Contracts\",\"confidence\":0.88,\"reasoning\":\"signature block\"}"}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", "llama3", singleAttempt())
	label, err := client.Classify(context.Background(), domain.AIRequest{
		Taxonomy:   []string{"Contracts", "Other"},
		Descriptor: "Document: lease.pdf",
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if label.Category != "Contracts" || label.Confidence != 0.88 {
		t.Fatalf("unexpected label %+v", label)
	}
	if captured.Model != "llama3" || captured.Format != "json" || captured.Stream {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.Options.Temperature != 0.1 || captured.Options.NumPredict != 500 {
		t.Fatalf("unexpected options %+v", captured.Options)
	}
	if !strings.Contains(captured.Prompt, "1. Contracts") || !strings.Contains(captured.Prompt, "Document: lease.pdf") {
		t.Fatalf("unexpected prompt %q", captured.Prompt)
	}
}

func TestClassifyIncludesHTTPBodyInError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "llama3", singleAttempt())
	_, err := client.Classify(context.Background(), domain.AIRequest{Taxonomy: []string{"Other"}, Descriptor: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrAIService) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary ai service error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestClassifyRejectsMalformedReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"not sure"}`))
	}))
	defer server.Close()

	client := New(server.URL, "llama3", nil)
	_, err := client.Classify(context.Background(), domain.AIRequest{Taxonomy: []string{"Other"}, Descriptor: "x"})
	if !domain.IsKind(err, domain.ErrAIService) {
		t.Fatalf("expected ai service error, got %v", err)
	}
}

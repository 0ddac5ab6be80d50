package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/classification"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// Client classifies documents through Ollama's /api/generate in JSON mode.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

func (c *Client) Classify(ctx context.Context, req domain.AIRequest) (domain.Label, error) {
	payload := generateRequest{
		Model:  c.model,
		Prompt: classification.CombinedPrompt(req.Taxonomy, req.Descriptor),
		Stream: false,
		Format: "json",
		Options: generateOptions{
			Temperature: classification.Temperature,
			NumPredict:  classification.MaxTokens,
		},
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", payload, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.Label{}, domain.WrapError(domain.ErrAIService, "ollama classify", resilience.WrapTemporary("ollama generate", err, resilience.ClassifyHTTPError))
	}
	return classification.ParseLabel(response.Response)
}

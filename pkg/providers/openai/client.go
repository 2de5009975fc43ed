package openai

import (
	"errors"
	"net/http"
	"time"

	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/resilience"
	openai "github.com/sashabaranov/go-openai"
)

// ClientConfig carries the settings shared by the transcriber and the
// summarizer.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func newClient(cfg ClientConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(clientConfig)
}

// classify maps API failures onto resilience errors so the breaker can see
// rate limits and outages, and tags everything else with reason.
func classify(err error, reason errorsx.ReasonCode) error {
	if err == nil {
		return nil
	}
	if resilience.IsCircuitOpen(err) {
		return errorsx.Wrap(err, errorsx.ReasonProviderCircuitOpen)
	}
	status, msg := statusOf(err)
	switch {
	case status == http.StatusTooManyRequests:
		return errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: msg}, errorsx.ReasonProviderRateLimit)
	case status >= http.StatusInternalServerError:
		return errorsx.Wrap(resilience.UnavailableError{Provider: "openai", Status: status, Message: msg}, errorsx.ReasonProviderUnavailable)
	}
	return errorsx.Wrap(err, reason)
}

func statusOf(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, reqErr.Error()
	}
	return 0, ""
}

// Package inflect puts a representative's title and name into the genitive
// case with a language-model API. The model must answer "title|name".
package inflect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// Defaults for the OpenAI-compatible endpoint.
const (
	DefaultBaseURL  = "https://api.openai.com/v1"
	DefaultModel    = "gpt-5-nano"
	DefaultAttempts = 3

	maxTokens   = 150
	temperature = 0.1
)

const instruction = "Ты эксперт по русскому языку. " +
	"Точно преобразуй должность и ФИО в родительный падеж. " +
	"Верни ответ строго в формате: должность|ФИО"

// ErrFormat marks a reply that arrived but could not be used.
var ErrFormat = errors.New("inflect: reply is not a converted title|name pair")

// Genitive is the converted pair.
type Genitive struct {
	Title    string
	FullName string
}

// Client converts titles and names through the model API.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	model    string
	attempts int
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel selects the model. Names starting with "gpt-5" are sent to
// the Responses API, everything else to Chat Completions.
func WithModel(m string) Option {
	return func(c *Client) {
		if m = strings.TrimSpace(m); m != "" {
			c.model = m
		}
	}
}

// WithProxy routes requests through an HTTP proxy.
func WithProxy(u *url.URL) Option {
	return func(c *Client) {
		if u == nil {
			return
		}
		c.http.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAttempts overrides DefaultAttempts.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithLogger sets the logger used for attempt failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		model:    DefaultModel,
		attempts: DefaultAttempts,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// ToGenitive converts title and fullName. Up to the configured number of
// attempts are made. When every attempt produced an unusable reply the
// error is a FormatViolation; when the last attempt could not reach the
// API it is NormalizerUnavailable.
func (c *Client) ToGenitive(ctx context.Context, title, fullName string) (Genitive, error) {
	prompt := fmt.Sprintf("Должность: %s\nФИО: %s\nФормат: должность|ФИО", title, fullName)

	var (
		lastErr   error
		badFormat bool
	)
	for attempt := 1; attempt <= c.attempts; attempt++ {
		reply, err := c.complete(ctx, prompt)
		badFormat = false
		if err == nil {
			var g Genitive
			if g, err = ParseReply(reply, title, fullName); err == nil {
				return g, nil
			}
			badFormat = true
		}
		lastErr = err
		c.logger.Warn("genitive conversion failed",
			zap.String("model", c.model), zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	kind := counterparty.KindNormalizerUnavailable
	if badFormat {
		kind = counterparty.KindFormatViolation
	}
	return Genitive{}, counterparty.NewError(kind, "", eris.Wrapf(lastErr, "inflect: %d attempts", c.attempts))
}

// ParseReply validates a model reply against the input pair. A reply that
// lacks the pipe, has an empty side, or repeats the input unchanged is a
// format violation.
func ParseReply(reply, title, fullName string) (Genitive, error) {
	line := strings.TrimSpace(reply)
	for _, l := range strings.Split(line, "\n") {
		if strings.Contains(l, "|") {
			line = l
			break
		}
	}
	left, right, ok := strings.Cut(line, "|")
	if !ok {
		return Genitive{}, fmt.Errorf("%w: no separator in %q", ErrFormat, reply)
	}
	g := Genitive{Title: strings.TrimSpace(left), FullName: strings.TrimSpace(right)}
	if g.Title == "" || g.FullName == "" {
		return Genitive{}, fmt.Errorf("%w: empty side in %q", ErrFormat, reply)
	}
	if strings.EqualFold(g.Title, strings.TrimSpace(title)) && strings.EqualFold(g.FullName, strings.TrimSpace(fullName)) {
		return Genitive{}, fmt.Errorf("%w: input echoed unchanged", ErrFormat)
	}
	return g, nil
}

// Fallback is the nominative pair used when conversion is skipped.
func Fallback(title, fullName string) Genitive {
	return Genitive{Title: strings.ToLower(title), FullName: fullName}
}

// ---------- wire ----------

func (c *Client) usesResponsesAPI() bool {
	return strings.HasPrefix(strings.ToLower(c.model), "gpt-5")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type responsesRequest struct {
	Model           string  `json:"model"`
	Input           string  `json:"input"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// completion covers both reply shapes.
type completion struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r completion) text() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	for _, o := range r.Output {
		for _, part := range o.Content {
			if part.Type == "output_text" && part.Text != "" {
				return part.Text
			}
		}
	}
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	var (
		path string
		body any
	)
	if c.usesResponsesAPI() {
		// The Responses API has no system role; the instruction travels in input.
		path = "/responses"
		body = responsesRequest{
			Model:           c.model,
			Input:           instruction + "\n\n" + prompt,
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		}
	} else {
		path = "/chat/completions"
		body = chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: instruction},
				{Role: "user", Content: prompt},
			},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "inflect: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "inflect: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "inflect: %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", eris.Errorf("inflect: %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out completion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", eris.Wrapf(err, "inflect: %s: decode", path)
	}
	return out.text(), nil
}

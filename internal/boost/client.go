// Package boost talks to the boost model: it renders the guidance prompt,
// calls the model through a pooled HTTP client and classifies the free-text
// reply into SUMMARY, GUIDANCE or OTHER.
package boost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/router-for-me/BoostProxy/internal/api/middleware"
	"github.com/router-for-me/BoostProxy/internal/cache"
	"github.com/router-for-me/BoostProxy/internal/transport"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Failure kinds surfaced by GetGuidance. The client never retries.
var (
	// ErrTransport covers connection, DNS, timeout and non-2xx HTTP failures.
	ErrTransport = errors.New("boost transport failure")
	// ErrProtocol covers replies without a usable choices[0].message.content.
	ErrProtocol = errors.New("boost protocol failure")
)

// Cache bounds.
const (
	GuidanceCacheSize = 32
	GuidanceCacheTTL  = 60 * time.Second
	SectionCacheSize  = 6

	temperature = 0.7
	maxTokens   = 4096
)

// Options configures a boost client.
type Options struct {
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
	ProxyURL string
	// Template overrides DefaultTemplate when non-blank.
	Template string
}

// Guidance is one classified boost reply.
type Guidance struct {
	Kind      Kind
	Analysis  string
	Payload   string
	Raw       string
	CreatedAt time.Time
}

// Client is safe for concurrent use. Its caches are private to the instance.
type Client struct {
	opts     Options
	api      *openai.Client
	guidance *cache.LRU[Guidance]
	sections *cache.LRU[Sections]
	group    singleflight.Group
}

// NewClient builds a boost client whose HTTP client comes from reg, so
// clients with identical endpoint settings share one connection pool.
func NewClient(opts Options, reg *transport.Registry) (*Client, error) {
	if reg == nil {
		return nil, errors.New("boost: transport registry is required")
	}
	httpClient, err := reg.Client(transport.Endpoint{
		BaseURL:  opts.BaseURL,
		Model:    opts.Model,
		Timeout:  opts.Timeout,
		APIKey:   opts.APIKey,
		ProxyURL: opts.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("boost: %w", err)
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	cfg.HTTPClient = httpClient

	return &Client{
		opts:     opts,
		api:      openai.NewClientWithConfig(cfg),
		guidance: cache.New[Guidance](cache.Config{Name: "boost_guidance", MaxSize: GuidanceCacheSize, TTL: GuidanceCacheTTL}),
		sections: cache.New[Sections](cache.Config{Name: "boost_sections", MaxSize: SectionCacheSize}),
	}, nil
}

// StartEviction sweeps expired guidance entries until ctx is done.
func (c *Client) StartEviction(ctx context.Context) {
	c.guidance.StartPeriodicEviction(ctx, cache.DefaultEvictionInterval)
}

// Model returns the boost model id.
func (c *Client) Model() string { return c.opts.Model }

// ParseSections parses text through the section cache. It is the only
// parsing entry point; callers must not mutate the returned map.
func (c *Client) ParseSections(text string) Sections {
	if s, ok := c.sections.Get(text); ok {
		return s
	}
	s := parseSections(text)
	c.sections.Set(text, s)
	return s
}

// BuildPrompt renders the configured template for one iteration.
func (c *Client) BuildPrompt(userRequest string, tools []byte, iteration int, priorAttempts []string) string {
	return BuildPrompt(c.opts.Template, userRequest, tools, iteration, priorAttempts)
}

// GetGuidance returns the classified boost reply for the given loop context.
// Identical inputs within GuidanceCacheTTL are served from cache, and
// concurrent identical misses share one upstream call.
func (c *Client) GetGuidance(ctx context.Context, userRequest string, tools []byte, iteration int, priorAttempts []string) (Guidance, error) {
	key := c.cacheKey(userRequest, tools, iteration, priorAttempts)
	if g, ok := c.guidance.Get(key); ok {
		log.Debug("boost: using cached guidance for identical input")
		return g, nil
	}

	// The shared call outlives any single caller; the HTTP client timeout
	// still bounds it.
	callCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if g, ok := c.guidance.Get(key); ok {
			return g, nil
		}
		prompt := c.BuildPrompt(userRequest, tools, iteration, priorAttempts)
		text, errCall := c.call(callCtx, prompt)
		if errCall != nil {
			return Guidance{}, errCall
		}
		kind, analysis, payload := Classify(c.ParseSections(text))
		g := Guidance{Kind: kind, Analysis: analysis, Payload: payload, Raw: text, CreatedAt: time.Now()}
		c.guidance.Set(key, g)
		return g, nil
	})

	select {
	case <-ctx.Done():
		return Guidance{}, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Guidance{}, res.Err
		}
		if res.Shared {
			log.Debug("boost: guidance call shared with a concurrent request")
		}
		return res.Val.(Guidance), nil
	}
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	log.Infof("Calling boost model: %s", c.opts.Model)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		if isDecodeError(err) {
			middleware.RecordUpstreamError("boost", "protocol")
			log.Errorf("Invalid response format from boost model: %v", err)
			return "", fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		middleware.RecordUpstreamError("boost", "transport")
		log.Errorf("HTTP error calling boost model: %v", err)
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		middleware.RecordUpstreamError("boost", "protocol")
		log.Error("Invalid response format from boost model: missing choices[0].message.content")
		return "", fmt.Errorf("%w: missing choices[0].message.content", ErrProtocol)
	}

	content := resp.Choices[0].Message.Content
	log.Infof("Boost model response received: %d characters", len(content))
	return content, nil
}

// isDecodeError reports a 2xx reply whose body could not be decoded. HTTP
// status failures stay transport errors even when their body is not JSON.
func isDecodeError(err error) bool {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

type cacheKeyInput struct {
	Model       string          `json:"model"`
	UserRequest string          `json:"user_request"`
	Tools       json.RawMessage `json:"tools"`
	Iteration   int             `json:"loop_count"`
	Attempts    []string        `json:"attempts"`
}

func (c *Client) cacheKey(userRequest string, tools []byte, iteration int, priorAttempts []string) string {
	in := cacheKeyInput{
		Model:       c.opts.Model,
		UserRequest: userRequest,
		Tools:       normalizeTools(tools),
		Iteration:   iteration,
		Attempts:    priorAttempts,
	}
	if in.Attempts == nil {
		in.Attempts = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		b = []byte(fmt.Sprintf("%s|%s|%s|%d|%q", in.Model, userRequest, tools, iteration, priorAttempts))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// normalizeTools re-encodes tools so whitespace and key order do not change
// the cache key. json.Marshal sorts map keys.
func normalizeTools(tools []byte) json.RawMessage {
	if len(strings.TrimSpace(string(tools))) == 0 {
		return json.RawMessage("[]")
	}
	var v any
	if err := json.Unmarshal(tools, &v); err != nil {
		b, _ := json.Marshal(string(tools))
		return b
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}

// Package media talks to the GIF provider: search for the bot's GIF
// directives and short descriptions of GIF links for the bot's context.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/tavern-chat/backend/internal/config"
)

var log = logrus.WithField("component", "media")

// MaxDescriptionRunes bounds what Describe returns.
const MaxDescriptionRunes = 120

// Placeholder stands in for a GIF that could not be described.
const Placeholder = "[sent a GIF]"

// Client is a Giphy API client with a request throttle and a result cache.
type Client struct {
	apiKey  string
	baseURL string
	rating  string
	http    *http.Client
	limiter *rate.Limiter
	cache   *cache.Cache
}

// NewClient builds a client from config. An empty key yields a client whose
// calls return ErrDisabled.
func NewClient(cfg config.MediaConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		apiKey:  cfg.GiphyAPIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		rating:  cfg.Rating,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cache:   cache.New(1*time.Hour, 10*time.Minute),
	}
}

type gifObject struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	AltText string `json:"alt_text"`
	Images  struct {
		Original struct {
			URL string `json:"url"`
		} `json:"original"`
	} `json:"images"`
}

// Search returns the URL of the best GIF for term.
func (c *Client) Search(ctx context.Context, term string) (string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", ErrNoResult
	}
	key := "search:" + strings.ToLower(term)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(string), nil
	}

	params := url.Values{}
	params.Set("q", term)
	params.Set("limit", "1")
	if c.rating != "" {
		params.Set("rating", c.rating)
	}

	var body struct {
		Data []gifObject `json:"data"`
	}
	if err := c.get(ctx, "/v1/gifs/search", params, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 || body.Data[0].Images.Original.URL == "" {
		return "", fmt.Errorf("%w: %q", ErrNoResult, term)
	}

	result := body.Data[0].Images.Original.URL
	c.cache.SetDefault(key, result)
	return result, nil
}

// Describe returns a short human-readable description of a GIF link using
// the alt text, then the title, then the slug.
func (c *Client) Describe(ctx context.Context, rawURL string) (string, error) {
	u, ok := parseEmbed(rawURL)
	if !ok {
		return "", ErrUnsupportedURL
	}

	id, ok := giphyID(u)
	if !ok {
		// Tenor page links carry their tags in the slug.
		if hostMatches(u.Hostname()) {
			if words := slugWords(path.Base(u.Path)); words != "" {
				return truncate(words), nil
			}
		}
		return "", ErrUnsupportedURL
	}

	key := "describe:" + id
	if cached, ok := c.cache.Get(key); ok {
		return cached.(string), nil
	}

	var body struct {
		Data gifObject `json:"data"`
	}
	if err := c.get(ctx, "/v1/gifs/"+url.PathEscape(id), url.Values{}, &body); err != nil {
		return "", err
	}

	description := firstNonBlank(body.Data.AltText, body.Data.Title, slugWords(body.Data.Slug))
	if description == "" {
		return "", fmt.Errorf("%w: gif %s has no metadata", ErrNoResult, id)
	}
	description = truncate(description)
	c.cache.SetDefault(key, description)
	return description, nil
}

// DescribeOrPlaceholder never fails; provider errors become Placeholder.
func (c *Client) DescribeOrPlaceholder(ctx context.Context, rawURL string) string {
	description, err := c.Describe(ctx, rawURL)
	if err != nil {
		log.WithError(err).WithField("url", rawURL).Debug("describe gif failed")
		return Placeholder
	}
	return "[sent a GIF: " + description + "]"
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrDisabled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("media throttle: %w", err)
	}

	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNoResult
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxDescriptionRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:MaxDescriptionRunes-1])) + "…"
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// maxResponseBytes bounds how much of a source response is read.
const maxResponseBytes = 1 << 20

// retryBaseDelay is the backoff unit between fetch attempts.
const retryBaseDelay = 250 * time.Millisecond

// SourceClient fetches one reference-price observation from a scrape
// source over HTTP and extracts the value per the source's parser
// configuration.
type SourceClient struct {
	httpClient *http.Client
	userAgent  string
	maxRetries int
}

// NewSourceClient creates a SourceClient. timeout bounds each HTTP
// attempt; maxRetries is the number of extra attempts after the first
// for network errors and 5xx responses.
func NewSourceClient(timeout time.Duration, maxRetries int, userAgent string) *SourceClient {
	return &SourceClient{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		maxRetries: maxRetries,
	}
}

// Fetch retrieves the source URL and returns the extracted price with
// the source's scale factor applied. Network errors and 5xx responses
// are retried with backoff; 4xx responses and parse failures fail
// immediately.
func (c *SourceClient) Fetch(ctx context.Context, src domain.ScrapeSource) (decimal.Decimal, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryBaseDelay << (attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return decimal.Decimal{}, fmt.Errorf("fetch %s: %w", src.Name, ctx.Err())
			case <-timer.C:
			}
		}

		body, retryable, err := c.get(ctx, src.URL)
		if err != nil {
			lastErr = err
			if !retryable {
				return decimal.Decimal{}, fmt.Errorf("fetch %s: %w", src.Name, err)
			}
			continue
		}

		price, err := parsePrice(src, body)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("fetch %s: %w", src.Name, err)
		}
		return price, nil
	}

	return decimal.Decimal{}, fmt.Errorf("fetch %s: %d attempts: %w", src.Name, c.maxRetries+1, lastErr)
}

// get performs one HTTP GET. retryable reports whether a failure is
// worth another attempt.
func (c *SourceClient) get(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= 500, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 256))
	}

	return body, false, nil
}

// parsePrice extracts the price from a response body per the source's
// parser and applies its scale factor.
func parsePrice(src domain.ScrapeSource, body []byte) (decimal.Decimal, error) {
	switch src.Parser {
	case "", "json":
		raw, err := extractJSONField(body, src.FieldPath)
		if err != nil {
			return decimal.Decimal{}, err
		}
		scale := src.ScaleFactor
		if scale.IsZero() {
			scale = decimal.New(1, 0)
		}
		return raw.Mul(scale), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unknown parser %q", src.Parser)
	}
}

// extractJSONField navigates a JSON document along a dot-notation path
// with optional [n] array indexing ("data.prices[0].value") and
// returns the number found there. Quoted numbers are accepted since
// price APIs commonly serve them as strings.
func extractJSONField(body []byte, path string) (decimal.Decimal, error) {
	steps, err := parseFieldPath(path)
	if err != nil {
		return decimal.Decimal{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode response: %w", err)
	}

	cur := root
	for _, step := range steps {
		if step.isIndex {
			arr, ok := cur.([]any)
			if !ok {
				return decimal.Decimal{}, fmt.Errorf("path %s: [%d] applied to non-array", path, step.index)
			}
			if step.index < 0 || step.index >= len(arr) {
				return decimal.Decimal{}, fmt.Errorf("path %s: index %d out of range (len %d)", path, step.index, len(arr))
			}
			cur = arr[step.index]
		} else {
			obj, ok := cur.(map[string]any)
			if !ok {
				return decimal.Decimal{}, fmt.Errorf("path %s: field %q applied to non-object", path, step.key)
			}
			v, ok := obj[step.key]
			if !ok {
				return decimal.Decimal{}, fmt.Errorf("path %s: field %q not found", path, step.key)
			}
			cur = v
		}
	}

	switch v := cur.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("path %s: parse number %q: %w", path, v.String(), err)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("path %s: parse string %q: %w", path, v, err)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("path %s: value is %T, not a number", path, cur)
	}
}

// pathStep is one navigation step: an object key or an array index.
type pathStep struct {
	key     string
	index   int
	isIndex bool
}

// parseFieldPath splits "data.prices[0].value" into its steps. A
// leading index ("[2].price") addresses a root-level array.
func parseFieldPath(path string) ([]pathStep, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty field path")
	}

	var steps []pathStep
	for _, part := range strings.Split(path, ".") {
		key := part
		var suffix string
		if i := strings.IndexByte(part, '['); i >= 0 {
			key, suffix = part[:i], part[i:]
		}

		if key != "" {
			steps = append(steps, pathStep{key: key})
		} else if suffix == "" {
			return nil, fmt.Errorf("field path %q: empty segment", path)
		}

		for suffix != "" {
			if suffix[0] != '[' {
				return nil, fmt.Errorf("field path %q: malformed index in %q", path, part)
			}
			end := strings.IndexByte(suffix, ']')
			if end < 0 {
				return nil, fmt.Errorf("field path %q: unclosed index in %q", path, part)
			}
			idx, err := strconv.Atoi(suffix[1:end])
			if err != nil {
				return nil, fmt.Errorf("field path %q: bad index in %q: %w", path, part, err)
			}
			steps = append(steps, pathStep{index: idx, isIndex: true})
			suffix = suffix[end+1:]
		}
	}

	return steps, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

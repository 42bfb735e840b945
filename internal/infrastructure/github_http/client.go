package github_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relforge/relforge/internal/domain"
)

// Client talks to a GitHub-style release API. It creates the tag-named
// release and uploads every asset. Duplicate tags are rejected, never
// overwritten.
type Client struct {
	baseUrl string
	repo    string
	token   string
	hc      *http.Client
}

func New(baseUrl, repo, token string, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseUrl: trimSlash(baseUrl),
		repo:    repo,
		token:   token,
		hc:      &http.Client{Transport: tr, Timeout: timeout},
	}
}

type releaseDTO struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

func (c *Client) Publish(ctx context.Context, tag string, files []string) (domain.Release, error) {
	if tag == "" {
		return domain.Release{}, fmt.Errorf("release: empty tag")
	}

	rel, err := c.createRelease(ctx, tag)
	if err != nil {
		return domain.Release{}, err
	}

	out := domain.Release{Tag: tag, URL: rel.HTMLURL}
	for _, f := range files {
		name := filepath.Base(f)
		if err := c.uploadAsset(ctx, rel.ID, name, f); err != nil {
			return domain.Release{}, fmt.Errorf("upload %s: %w", name, err)
		}
		out.Files = append(out.Files, name)
	}
	return out, nil
}

func (c *Client) createRelease(ctx context.Context, tag string) (releaseDTO, error) {
	var out releaseDTO

	op := func() error {
		body, _ := json.Marshal(map[string]any{
			"tag_name": tag,
			"name":     tag,
			"draft":    false,
		})

		url := fmt.Sprintf("%s/repos/%s/releases", c.baseUrl, c.repo)
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		c.authorize(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if retryErr := retryableStatus(ctx, resp); retryErr != nil {
			return retryErr
		}

		if resp.StatusCode == http.StatusUnprocessableEntity {
			return backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrReleaseExists, tag))
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("release api %s", resp.Status))
		}

		return json.NewDecoder(resp.Body).Decode(&out)
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		return releaseDTO{}, err
	}
	return out, nil
}

func (c *Client) uploadAsset(ctx context.Context, releaseID int64, name, path string) error {
	op := func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return backoff.Permanent(err)
		}

		url := fmt.Sprintf("%s/repos/%s/releases/%d/assets?name=%s",
			c.baseUrl, c.repo, releaseID, name)
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		c.authorize(req)
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if retryErr := retryableStatus(ctx, resp); retryErr != nil {
			return retryErr
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("asset upload %s", resp.Status))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(newBackoff(), ctx))
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
}

// retryableStatus maps 429 and 5xx responses to retryable errors, honoring
// Retry-After on rate limits.
func retryableStatus(ctx context.Context, resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if sec, _ := strconv.Atoi(ra); sec > 0 {
				select {
				case <-time.After(time.Duration(sec) * time.Second):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
				return fmt.Errorf("retry after due to 429")
			}
		}
		return fmt.Errorf("release api 429")
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("release api %s", resp.Status)
	}
	return nil
}

func newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second
	return bo
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

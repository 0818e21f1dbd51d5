package gitlab_http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-runner/internal/domain"
)

// Client publishes run verdicts as GitLab commit statuses.
type Client struct {
	baseUrl   string
	token     string
	projectID int64
	targetURL string
	hc        *http.Client
	retry     func() backoff.BackOff
}

func New(baseUrl, token string, projectID int64, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseUrl:   trimSlash(baseUrl),
		token:     token,
		projectID: projectID,
		hc:        &http.Client{Transport: tr, Timeout: timeout},
		retry:     defaultBackOff,
	}
}

// WithTargetURL sets the link GitLab shows next to the status. "%s" is
// replaced with the run ID.
func (c *Client) WithTargetURL(pattern string) *Client {
	c.targetURL = pattern
	return c
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

func (c *Client) Report(ctx context.Context, run domain.Run) error {
	if run.Event.CommitSHA == "" {
		return nil
	}

	q := url.Values{}
	q.Set("state", mapStatus(run.Status))
	q.Set("name", run.Workflow)
	q.Set("ref", strings.TrimPrefix(run.Ref, "refs/heads/"))
	q.Set("description", describe(run))
	if c.targetURL != "" {
		q.Set("target_url", strings.ReplaceAll(c.targetURL, "%s", run.ID))
	}
	statusURL := fmt.Sprintf("%s/api/v4/projects/%d/statuses/%s?%s",
		c.baseUrl, c.projectID, url.PathEscape(run.Event.CommitSHA), q.Encode())

	op := func() error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, statusURL, nil)
		req.Header.Set("PRIVATE-TOKEN", c.token)

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, _ := strconv.Atoi(ra); sec > 0 {
					select {
					case <-time.After(time.Duration(sec) * time.Second):
					case <-ctx.Done():
						return ctx.Err()
					}
					return fmt.Errorf("retry after due to 429")
				}
			}
			return fmt.Errorf("gitlab 429")
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("gitlab %s", resp.Status)
		}

		// GitLab answers 400 when the state did not change.
		if resp.StatusCode == http.StatusBadRequest {
			return nil
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("gitlab %s", resp.Status))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(c.retry(), ctx))
}

func mapStatus(s domain.RunStatus) string {
	switch s {
	case domain.RunSucceeded:
		return "success"
	case domain.RunFailed:
		return "failed"
	case domain.RunRunning:
		return "running"
	case domain.RunCancelled:
		return "canceled"
	default:
		return "pending"
	}
}

func describe(run domain.Run) string {
	var ok, bad int
	for _, j := range run.Jobs {
		switch {
		case j.Status == domain.JobSucceeded:
			ok++
		case j.Status.IsFailure():
			bad++
		}
	}
	return fmt.Sprintf("%d/%d jobs passed, %d failed", ok, len(run.Jobs), bad)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTP succeeds when GET URL answers with a status below 500.
type HTTP struct {
	URL    string
	client *http.Client
}

func NewHTTP(url string) HTTP {
	return HTTP{URL: url, client: &http.Client{Timeout: 2 * time.Second}}
}

func (p HTTP) Ready(ctx context.Context) error {
	c := p.client
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (p HTTP) Describe() string { return "http:" + p.URL }

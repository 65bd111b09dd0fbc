package httpds

import (
	"context"
	"io"
	"net/http"

	"dumpconv/internal/datasource"
)

// Source streams the body of a URL.
type Source struct {
	Client  *Client
	URL     string
	Headers http.Header
}

var _ datasource.Source = Source{}

func (s Source) Name() string { return s.URL }

func (s Source) Open(ctx context.Context) (io.ReadCloser, error) {
	c := s.Client
	if c == nil {
		c = NewClient(Config{})
	}
	resp, err := c.Get(ctx, s.URL, s.Headers)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

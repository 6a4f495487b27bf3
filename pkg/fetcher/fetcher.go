package fetcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dtnitsch/regscrape/models"
	"github.com/go-resty/resty/v2"
)

// StatusError is returned for any response other than 200 OK.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status code %d", e.Method, e.URL, e.StatusCode)
}

// Fetcher talks to the regulation site with the browser header set and the
// captured session cookie on every request.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher builds a Fetcher for baseURL. Relative paths passed to PostForm
// and GetHtmlBytes resolve against it.
func NewFetcher(baseURL string, cfg models.HTTPConfig) *Fetcher {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeaders(cfg.Headers)
	if cfg.Cookie != "" {
		client.SetHeader("Cookie", cfg.Cookie)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.GetClient().Transport = &decodingTransport{base: client.GetClient().Transport}

	return &Fetcher{client: client}
}

// PostForm submits form as application/x-www-form-urlencoded and returns the body.
func (f *Fetcher) PostForm(ctx context.Context, url string, form map[string]string) ([]byte, error) {
	res, err := f.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	return checkStatus(res)
}

// GetHtmlBytes fetches url and returns the raw body.
func (f *Fetcher) GetHtmlBytes(ctx context.Context, url string) ([]byte, error) {
	res, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	return checkStatus(res)
}

func checkStatus(res *resty.Response) ([]byte, error) {
	if res.StatusCode() != http.StatusOK {
		return nil, &StatusError{
			Method:     res.Request.Method,
			URL:        res.Request.URL,
			StatusCode: res.StatusCode(),
		}
	}
	return res.Body(), nil
}

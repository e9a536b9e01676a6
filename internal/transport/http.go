package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseBytes bounds how much of a platform response is read.
const maxResponseBytes = 10 << 20 // 10 MB

// HTTPSender sends requests to the platform API over HTTP.
type HTTPSender struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPSender creates a sender for the API rooted at baseURL. A nil client
// uses http.DefaultClient, which the service replaces with an instrumented
// client at startup.
func NewHTTPSender(baseURL string, client *http.Client) (*HTTPSender, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid platform API URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid platform API URL %q: scheme and host are required", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPSender{
		base:   base,
		client: client,
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := s.base.JoinPath(strings.TrimPrefix(req.Path, "/"))
	target.RawQuery = req.Query.Encode()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return Response{}, fmt.Errorf("building platform request: %w", err)
	}
	if body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, req.Path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("%w: reading response of %s %s: %w", ErrUnavailable, method, req.Path, err)
	}

	// The platform reports application errors in an errcode body. Error
	// statuses without one come from infrastructure in front of it.
	if httpResp.StatusCode >= http.StatusInternalServerError ||
		(httpResp.StatusCode >= http.StatusBadRequest && !carriesErrCode(data)) {
		return Response{}, fmt.Errorf("%w: %s %s returned HTTP %d", ErrUnavailable, method, req.Path, httpResp.StatusCode)
	}

	return Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func carriesErrCode(body []byte) bool {
	var env struct {
		ErrCode *int `json:"errcode"`
	}
	return json.Unmarshal(body, &env) == nil && env.ErrCode != nil
}

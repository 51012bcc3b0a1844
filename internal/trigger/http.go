package trigger

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
)

const DefaultHTTPTimeout = 10 * time.Second

type HTTPConfig struct {
	BaseURL string
	Token   string
	// Endpoint is the downstream delivery URL the remote scheduler calls on fire.
	Endpoint string
	Timeout  time.Duration
}

// HTTPClient is a Client backed by a remote scheduler REST API:
//
//	POST   {base}/triggers       -> 201/200 {"id": "..."}; 409 on duplicate name
//	DELETE {base}/triggers/{id}  -> 2xx; 404 counts as already deleted
type HTTPClient struct {
	base     string
	token    string
	endpoint string
	hc       *http.Client
}

func NewHTTPClient(cfg HTTPConfig, hc *http.Client) *HTTPClient {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		endpoint: cfg.Endpoint,
		hc:       hc,
	}
}

type createBody struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FireAt      time.Time `json:"fire_at"`
	Endpoint    string    `json:"endpoint"`
	Payload     Payload   `json:"payload"`
}

type idBody struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

func (c *HTTPClient) Create(ctx context.Context, name, description string, fireAt time.Time, p Payload) (Handle, error) {
	b, err := json.Marshal(createBody{Name: name, Description: description, FireAt: fireAt.UTC(), Endpoint: c.endpoint, Payload: p})
	if err != nil {
		return "", &ExternalError{Op: "create", Err: err}
	}
	resp, body, err := c.do(ctx, http.MethodPost, c.base+"/triggers", b)
	if err != nil {
		return "", &ExternalError{Op: "create", Err: err}
	}

	var out idBody
	_ = json.Unmarshal(body, &out)
	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", &ConflictError{Name: name, Existing: Handle(out.ID)}
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if strings.TrimSpace(out.ID) == "" {
			return "", &ExternalError{Op: "create", StatusCode: resp.StatusCode, Err: errors.New("response missing id")}
		}
		return Handle(out.ID), nil
	default:
		return "", &ExternalError{Op: "create", StatusCode: resp.StatusCode, Err: statusErr(out)}
	}
}

func (c *HTTPClient) Delete(ctx context.Context, h Handle) error {
	if h == "" {
		return nil
	}
	resp, body, err := c.do(ctx, http.MethodDelete, c.base+"/triggers/"+url.PathEscape(string(h)), nil)
	if err != nil {
		return &ExternalError{Op: "delete", Err: err}
	}
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	var out idBody
	_ = json.Unmarshal(body, &out)
	return &ExternalError{Op: "delete", StatusCode: resp.StatusCode, Err: statusErr(out)}
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body []byte) (*http.Response, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	rb, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, rb, nil
}

func statusErr(b idBody) error {
	if b.Message != "" {
		return errors.New(b.Message)
	}
	return errors.New("unexpected status")
}

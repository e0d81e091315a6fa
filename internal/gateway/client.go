package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is a non-2xx gateway response. Message holds the server's
// error field and may be empty.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.Code)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.Code, e.Message)
}

// Client calls a remote translation gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a gateway client. A nil httpClient gets one with no timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Translate posts text to /translate and returns the translation.
func (c *Client) Translate(ctx context.Context, sessionID, text string) (string, error) {
	body, err := json.Marshal(TranslateRequest{Text: text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post translate: %w", err)
	}
	defer resp.Body.Close()

	var out TranslateResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode, Message: out.Error}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode translate response: %w", decodeErr)
	}
	return out.Translation, nil
}

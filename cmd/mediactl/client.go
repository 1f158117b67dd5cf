package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

type apiClient struct {
	baseURL    string
	apiKey     string
	userID     string
	httpClient *http.Client
}

// apiError is a non-2xx answer. Conflict carries the 409 body of a stale
// metadata write.
type apiError struct {
	StatusCode int
	Message    string
	Conflict   *conflictBody
}

type conflictBody struct {
	Error                string `json:"error"`
	AssetID              string `json:"asset_id"`
	YourVersion          string `json:"your_version"`
	CurrentVersion       string `json:"current_version"`
	CurrentVersionNumber int    `json:"current_version_number"`
}

func (e *apiError) Error() string {
	if e.Conflict != nil {
		return fmt.Sprintf("version conflict on %s: you sent %s, current is %s (v%d)",
			e.Conflict.AssetID, e.Conflict.YourVersion, e.Conflict.CurrentVersion, e.Conflict.CurrentVersionNumber)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func newAPIClient(baseURL, apiKey, userID string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		userID:     userID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	ifMatch     string
}

func (c *apiClient) do(ctx context.Context, req request, out any) error {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.ifMatch != "" {
		httpReq.Header.Set("If-Match", `"`+req.ifMatch+`"`)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userID != "" {
		httpReq.Header.Set("X-User-Id", c.userID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &apiError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
	if status == http.StatusConflict {
		var conflict conflictBody
		if err := json.Unmarshal(raw, &conflict); err == nil && conflict.CurrentVersion != "" {
			apiErr.Conflict = &conflict
			return apiErr
		}
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(raw), nil
}

// multipartUpload builds the body of POST /v1/assets.
func multipartUpload(filename string, content io.Reader, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", filename, err)
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

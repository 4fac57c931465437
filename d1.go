package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const cloudflareAPIBase = "https://api.cloudflare.com/client/v4"

// D1Client is the typed destination capability. It exposes the four
// operation families the migration needs (query, raw execution, bulk
// import, import polling); callers never inspect transport error shapes.
type D1Client struct {
	accountID  string
	databaseID string
	apiToken   string
	baseURL    string
	hc         *http.Client
	uploadHC   *http.Client
}

func newD1Client(accountID, databaseID, apiToken string) *D1Client {
	return &D1Client{
		accountID:  accountID,
		databaseID: databaseID,
		apiToken:   apiToken,
		baseURL:    cloudflareAPIBase,
		hc:         &http.Client{Timeout: 60 * time.Second},
		// uploads move the whole statement stream and can legitimately
		// outlast the envelope timeout; the request context bounds them
		uploadHC: &http.Client{},
	}
}

type d1Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type d1Envelope struct {
	Success bool            `json:"success"`
	Errors  []d1Error       `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

// QueryMeta carries execution metadata for one statement group.
type QueryMeta struct {
	Changes   int64   `json:"changes"`
	Duration  float64 `json:"duration"`
	LastRowID int64   `json:"last_row_id"`
}

// QueryResult is one result set from the query or raw endpoints.
type QueryResult struct {
	Results []map[string]any `json:"results"`
	Meta    QueryMeta        `json:"meta"`
	Success bool             `json:"success"`
}

// Query submits SQL text with optional positional parameters to the query
// endpoint and returns the structured result sets.
func (c *D1Client) Query(ctx context.Context, sqlText string, params ...any) ([]QueryResult, error) {
	body := map[string]any{"sql": sqlText}
	if len(params) > 0 {
		body["params"] = params
	}
	var out []QueryResult
	if err := c.post(ctx, "/query", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Raw submits a blob of SQL text (multiple statements allowed) to the raw
// execution endpoint.
func (c *D1Client) Raw(ctx context.Context, sqlText string) ([]QueryResult, error) {
	var out []QueryResult
	if err := c.post(ctx, "/raw", map[string]any{"sql": sqlText}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportInitResult is the staging target handed back by import init.
type ImportInitResult struct {
	UploadURL string `json:"upload_url"`
	Filename  string `json:"filename"`
	Bookmark  string `json:"at_bookmark"`
}

// ImportInit starts a staged bulk import. The etag is the content checksum
// of the full statement stream and doubles as an idempotency token.
func (c *D1Client) ImportInit(ctx context.Context, etag string) (*ImportInitResult, error) {
	var out ImportInitResult
	if err := c.post(ctx, "/import", map[string]any{"action": "init", "etag": etag}, &out); err != nil {
		return nil, err
	}
	if out.UploadURL == "" {
		return nil, fmt.Errorf("d1 import init: no upload target returned")
	}
	return &out, nil
}

// ImportUpload puts the full statement stream bytes to the staging target.
func (c *D1Client) ImportUpload(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("d1 upload: %w", err)
	}
	resp, err := c.uploadHC.Do(req)
	if err != nil {
		return fmt.Errorf("d1 upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("d1 upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// ImportIngestResult carries the bookmark used to poll ingestion progress.
type ImportIngestResult struct {
	Bookmark string `json:"at_bookmark"`
}

// ImportIngest asks the service to ingest a previously uploaded file.
func (c *D1Client) ImportIngest(ctx context.Context, etag, filename string) (*ImportIngestResult, error) {
	body := map[string]any{"action": "ingest", "etag": etag, "filename": filename}
	var out ImportIngestResult
	if err := c.post(ctx, "/import", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportPollResult is the ingestion status snapshot at one bookmark.
type ImportPollResult struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Terminal import statuses. Anything else means ingestion is still running.
const (
	importStatusCompleted = "completed"
	importStatusFailed    = "failed"
)

// ImportPoll fetches the current ingestion status for a bookmark.
func (c *D1Client) ImportPoll(ctx context.Context, bookmark string) (*ImportPollResult, error) {
	body := map[string]any{"action": "poll", "current_bookmark": bookmark}
	var out ImportPollResult
	if err := c.post(ctx, "/import", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends an authenticated JSON request to a database-scoped endpoint and
// decodes the {success, result, errors} envelope into out.
func (c *D1Client) post(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("d1 %s: encode request: %w", endpoint, err)
	}

	url := fmt.Sprintf("%s/accounts/%s/d1/database/%s%s", c.baseURL, c.accountID, c.databaseID, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("d1 %s: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("d1 %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var env d1Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("d1 %s: decode response (status %d): %w", endpoint, resp.StatusCode, err)
	}
	if !env.Success {
		return fmt.Errorf("d1 %s: %s", endpoint, joinD1Errors(env.Errors, resp.StatusCode))
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("d1 %s: decode result: %w", endpoint, err)
		}
	}
	return nil
}

func joinD1Errors(errs []d1Error, status int) string {
	if len(errs) == 0 {
		return fmt.Sprintf("request failed with status %d", status)
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return strings.Join(parts, "; ")
}

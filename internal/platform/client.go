package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to the upstream platform REST API. All calls carry the
// caller's bearer token so access control stays upstream.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// NewClientWithHTTP is used by tests to substitute a transport.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// FetchQuestionnaires lists the questionnaire trees under a parent
// (engagement or firm) node.
func (c *Client) FetchQuestionnaires(ctx context.Context, token, parentID string) ([]Questionnaire, error) {
	endpoint := c.baseURL + "/questionnaires?parentId=" + url.QueryEscape(parentID)
	var out []Questionnaire
	if err := c.do(ctx, token, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch questionnaires: %w", err)
	}
	return out, nil
}

// UpdateQuestionAnswer persists one cell's fields. Note and implemented are
// optional; nil leaves the server value untouched.
func (c *Client) UpdateQuestionAnswer(ctx context.Context, token, questionnaireID string, sectionIndex, questionIndex int, answer string, note *string, implemented *bool) error {
	endpoint := c.baseURL + "/questionnaires/" + url.PathEscape(questionnaireID) +
		"/sections/" + strconv.Itoa(sectionIndex) +
		"/questions/" + strconv.Itoa(questionIndex)
	body := map[string]any{"answer": answer}
	if note != nil {
		body["note"] = *note
	}
	if implemented != nil {
		body["implemented"] = *implemented
	}
	if err := c.do(ctx, token, http.MethodPut, endpoint, body, nil); err != nil {
		return fmt.Errorf("update question answer: %w", err)
	}
	return nil
}

func (c *Client) AddPolicyURL(ctx context.Context, token, questionnaireID string, record URLRecord) error {
	return c.addURL(ctx, token, questionnaireID, "policy-urls", record)
}

func (c *Client) AddProcedureURL(ctx context.Context, token, questionnaireID string, record URLRecord) error {
	return c.addURL(ctx, token, questionnaireID, "procedure-urls", record)
}

func (c *Client) addURL(ctx context.Context, token, questionnaireID, kind string, record URLRecord) error {
	endpoint := c.baseURL + "/questionnaires/" + url.PathEscape(questionnaireID) + "/" + kind
	if err := c.do(ctx, token, http.MethodPost, endpoint, record, nil); err != nil {
		return fmt.Errorf("add %s: %w", kind, err)
	}
	return nil
}

// GetQuestionnaireURLs fetches both attached-document URL lists.
func (c *Client) GetQuestionnaireURLs(ctx context.Context, token, questionnaireID string) (QuestionnaireURLs, error) {
	endpoint := c.baseURL + "/questionnaires/" + url.PathEscape(questionnaireID) + "/urls"
	var out QuestionnaireURLs
	if err := c.do(ctx, token, http.MethodGet, endpoint, nil, &out); err != nil {
		return QuestionnaireURLs{}, fmt.Errorf("get questionnaire urls: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, token, method, endpoint string, body, target any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream %s %s: status %d: %s", method, endpoint, resp.StatusCode, snippet)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

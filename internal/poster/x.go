package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/rohankatakam/herald/internal/models"
)

const DefaultXBaseURL = "https://api.twitter.com"

// ErrMalformedResponse is returned when a 2xx response cannot be decoded
var ErrMalformedResponse = errors.New("malformed post response")

// StatusError is a non-2xx response from the posting API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("posting api returned %d: %s", e.StatusCode, body)
}

// XClient creates posts through the X v2 API
type XClient struct {
	baseURL string
	http    *http.Client
}

// NewXClient builds a transport authenticating with a bearer token
func NewXClient(baseURL, token string, timeout time.Duration) *XClient {
	if baseURL == "" {
		baseURL = DefaultXBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = timeout

	return &XClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    hc,
	}
}

type createPostRequest struct {
	Text string `json:"text"`
}

type createPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// CreatePost publishes text and returns the new post's id
func (x *XClient) CreatePost(ctx context.Context, text string) (models.PostID, error) {
	body, err := json.Marshal(createPostRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read post response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out createPostResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: no id", ErrMalformedResponse)
	}
	return models.PostID(out.Data.ID), nil
}

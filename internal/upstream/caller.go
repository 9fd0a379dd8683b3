package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Outcome classifies one outbound call. Timeout, network and parse failures
// are distinct classes with distinct user-facing messages, though all mark
// the associated job FAILED.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeAPIError     Outcome = "api_error"
	OutcomeBadJSON      Outcome = "bad_json"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNetworkError Outcome = "network_error"
)

// Request describes one call to the external customer-lifecycle API.
type Request struct {
	URL         string
	Token       string
	Post        bool
	Body        map[string]any
	ContentType string
}

// Result carries the classified outcome of a call.
type Result struct {
	Outcome    Outcome
	HTTPStatus int
	Body       any    // decoded JSON on 2xx
	APISuccess bool   // body-level success flag, true when absent
	ErrorText  string // classification-specific message, empty on success
}

// Caller performs synchronous HTTP calls against the external API.
type Caller struct {
	client *http.Client
}

// NewCaller builds a caller whose requests are bounded by timeout.
func NewCaller(timeout time.Duration) *Caller {
	return &Caller{client: &http.Client{Timeout: timeout}}
}

// Do executes the call and classifies the result. It never returns an error;
// every failure mode is expressed through Result.Outcome so the orchestration
// path can update the job and audit log uniformly.
func (c *Caller) Do(ctx context.Context, req Request) Result {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return Result{Outcome: OutcomeNetworkError, ErrorText: err.Error()}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return Result{
				Outcome:   OutcomeTimeout,
				ErrorText: fmt.Sprintf("request timeout after %s", c.client.Timeout),
			}
		}
		return Result{Outcome: OutcomeNetworkError, ErrorText: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return Result{
			Outcome:    OutcomeAPIError,
			HTTPStatus: resp.StatusCode,
			ErrorText:  fmt.Sprintf("API returned status %d: %s", resp.StatusCode, snippet),
		}
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{
			Outcome:    OutcomeBadJSON,
			HTTPStatus: resp.StatusCode,
			ErrorText:  fmt.Sprintf("invalid JSON response: %v", err),
		}
	}

	// A body-level success flag decides logical success; absence means success.
	apiSuccess := true
	var errText string
	if m, ok := body.(map[string]any); ok {
		if flag, ok := m["success"].(bool); ok && !flag {
			apiSuccess = false
			if msg, ok := m["message"].(string); ok {
				errText = msg
			}
		}
	}

	return Result{
		Outcome:    OutcomeSuccess,
		HTTPStatus: resp.StatusCode,
		Body:       body,
		APISuccess: apiSuccess,
		ErrorText:  errText,
	}
}

func (c *Caller) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	var httpReq *http.Request
	var err error
	if req.Post && req.Body != nil {
		var payload io.Reader
		if contentType == "application/x-www-form-urlencoded" {
			form := url.Values{}
			for k, v := range req.Body {
				form.Set(k, fmt.Sprint(v))
			}
			payload = strings.NewReader(form.Encode())
		} else {
			raw, marshalErr := json.Marshal(req.Body)
			if marshalErr != nil {
				return nil, fmt.Errorf("marshal post body: %w", marshalErr)
			}
			payload = bytes.NewReader(raw)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, req.URL, payload)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	return httpReq, nil
}

func isTimeout(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded)
}

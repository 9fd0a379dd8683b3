package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCallerSuccess(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "job": "abc"})
	}))
	defer srv.Close()

	c := NewCaller(5 * time.Second)
	res := c.Do(context.Background(), Request{
		URL:   srv.URL,
		Token: "tok-123",
		Post:  true,
		Body:  map[string]any{"action": "pe-enable", "cids": []any{"c1"}},
	})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Outcome, res.ErrorText)
	}
	if !res.APISuccess || res.HTTPStatus != http.StatusOK {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if gotBody["action"] != "pe-enable" {
		t.Fatalf("post body not forwarded: %v", gotBody)
	}
}

func TestCallerBodyLevelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "customer not found"})
	}))
	defer srv.Close()

	res := NewCaller(5*time.Second).Do(context.Background(), Request{URL: srv.URL})
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("2xx with success:false is still a transport success, got %s", res.Outcome)
	}
	if res.APISuccess {
		t.Fatal("expected APISuccess=false")
	}
	if res.ErrorText != "customer not found" {
		t.Fatalf("expected body message, got %q", res.ErrorText)
	}
}

func TestCallerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusBadGateway)
	}))
	defer srv.Close()

	res := NewCaller(5*time.Second).Do(context.Background(), Request{URL: srv.URL})
	if res.Outcome != OutcomeAPIError {
		t.Fatalf("expected api_error, got %s", res.Outcome)
	}
	if res.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.HTTPStatus)
	}
	if !strings.Contains(res.ErrorText, "API returned status 502") {
		t.Fatalf("unexpected error text: %q", res.ErrorText)
	}
}

func TestCallerBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	res := NewCaller(5*time.Second).Do(context.Background(), Request{URL: srv.URL})
	if res.Outcome != OutcomeBadJSON {
		t.Fatalf("expected bad_json, got %s", res.Outcome)
	}
	if !strings.Contains(res.ErrorText, "invalid JSON response") {
		t.Fatalf("unexpected error text: %q", res.ErrorText)
	}
}

func TestCallerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	res := NewCaller(50*time.Millisecond).Do(context.Background(), Request{URL: srv.URL})
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout, got %s (%s)", res.Outcome, res.ErrorText)
	}
	if !strings.Contains(res.ErrorText, "request timeout") {
		t.Fatalf("unexpected error text: %q", res.ErrorText)
	}
}

func TestCallerNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	res := NewCaller(5*time.Second).Do(context.Background(), Request{URL: srv.URL})
	if res.Outcome != OutcomeNetworkError {
		t.Fatalf("expected network_error, got %s", res.Outcome)
	}
	if res.ErrorText == "" {
		t.Fatal("expected error text")
	}
}

func TestCallerFormEncodedPost(t *testing.T) {
	var gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostFormValue("action")
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	res := NewCaller(5*time.Second).Do(context.Background(), Request{
		URL:         srv.URL,
		Post:        true,
		Body:        map[string]any{"action": "t-enable"},
		ContentType: "application/x-www-form-urlencoded",
	})
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", res.Outcome)
	}
	if gotForm != "t-enable" {
		t.Fatalf("form field not sent, got %q", gotForm)
	}
}

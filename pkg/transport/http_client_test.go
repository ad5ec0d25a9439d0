package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHTTPClient(baseURL string) *HTTPClient {
	return NewHTTPClient(HTTPOptions{BaseURL: baseURL, PageLimit: 30, Locale: "en-US"})
}

func TestHTTPClient_ListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/organizations/org-1/chat_conversations" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("limit"); got != "30" {
			t.Errorf("limit = %q, want 30", got)
		}
		if cookie := r.Header.Get("Cookie"); cookie == "" {
			t.Errorf("missing auth cookie")
		}
		fmt.Fprint(w, `[{"uuid":"c1","name":"First","created_at":"2025-06-01T10:00:00Z","updated_at":"2025-06-01T10:00:00Z"}]`)
	}))
	defer srv.Close()

	c := newTestHTTPClient(srv.URL)
	got, err := c.ListConversations(context.Background(), testCred)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("ListConversations() = %v", got)
	}
}

func TestHTTPClient_ListFallsThroughToAlternateEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat_conversations":
			fmt.Fprint(w, `{"conversations":[{"id":"alt-1","title":"Alt"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestHTTPClient(srv.URL)
	got, err := c.ListConversations(context.Background(), testCred)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "alt-1" {
		t.Fatalf("ListConversations() = %v, want alt-1", got)
	}
}

func TestHTTPClient_ListAllEndpointsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestHTTPClient(srv.URL)
	_, err := c.ListConversations(context.Background(), testCred)
	if !errors.Is(err, ErrAllEndpointsExhausted) {
		t.Fatalf("ListConversations() error = %v, want ErrAllEndpointsExhausted", err)
	}
}

func TestHTTPClient_UnauthorizedIsAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestHTTPClient(srv.URL)
	_, err := c.ListConversations(context.Background(), testCred)
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("ListConversations() error = %v, want ErrAuthRejected", err)
	}
}

func TestHTTPClient_CreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		fmt.Fprint(w, `{"uuid":"new-1"}`)
	}))
	defer srv.Close()

	c := newTestHTTPClient(srv.URL)
	id, err := c.CreateConversation(context.Background(), testCred, "Title")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if id != "new-1" {
		t.Fatalf("id = %q, want new-1", id)
	}
}

func TestHTTPClient_SendMessageStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"He\"}}\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"llo\"}}\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n")
	}))
	defer srv.Close()

	c := newTestHTTPClient(srv.URL)
	var updates []string
	text, err := c.SendMessage(context.Background(), testCred, "c1", "hi", "", func(cumulative string) {
		updates = append(updates, cumulative)
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if text != "Hello" {
		t.Fatalf("final text = %q, want Hello", text)
	}
	want := []string{"He", "Hello"}
	if len(updates) != len(want) {
		t.Fatalf("updates = %v, want %v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Fatalf("updates[%d] = %q, want %q", i, updates[i], want[i])
		}
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/support/internal/auth"
	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/model/prompt"
	"github.com/zhouzirui/z-tavern/support/internal/service/ai"
	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
	chatService "github.com/zhouzirui/z-tavern/support/internal/service/chat"
	"github.com/zhouzirui/z-tavern/support/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.Resolver) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "router.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.UpsertTemplates(context.Background(), prompt.Seed()); err != nil {
		t.Fatalf("seed templates: %v", err)
	}
	responder, err := ai.NewService(context.Background(), nil, st, ai.Options{}, nil)
	if err != nil {
		t.Fatalf("responder: %v", err)
	}
	hub := broadcast.NewHub(nil)
	streamer := broadcast.NewStreamer(hub, broadcast.StreamerOptions{ChunkDelay: time.Millisecond}, nil)
	t.Cleanup(func() {
		streamer.Close()
		hub.Close()
		st.Close()
	})

	resolver := auth.NewResolver("router-secret")
	chatSvc := chatService.NewService(st, responder, streamer, chatService.Options{}, nil)
	return NewRouter(Dependencies{Chat: chatSvc, Frames: hub, Templates: st, Identity: resolver}), resolver
}

func TestRouterServesAPI(t *testing.T) {
	router, resolver := newTestRouter(t)

	token, err := resolver.Issue(chat.Identity{AccountID: "staff-1", DisplayName: "Minh"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(`{"language":"vi"}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.AccountID != "staff-1" {
		t.Fatalf("expected identity to be attached, got %+v", session)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header")
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/templates?language=vi", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 from templates, got %d", resp.Code)
	}
	var templates []prompt.Template
	if err := json.Unmarshal(resp.Body.Bytes(), &templates); err != nil {
		t.Fatalf("decode templates: %v", err)
	}
	if len(templates) != 1 || templates[0].ID != "support-vi" {
		t.Fatalf("unexpected templates: %+v", templates)
	}
}

func TestRouterHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

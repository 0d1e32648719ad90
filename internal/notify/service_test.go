package notify_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"playlog/internal/config"
	"playlog/internal/notify"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notify.NewService(&cfg)
	if err := svc.NotifyRunStarted(context.Background(), 10); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsRequests(t *testing.T) {
	var gotTitle, gotTags, gotPriority, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notify.NewService(&cfg)

	if err := svc.NotifyRunCompleted(context.Background(), 120, 4, 2, 3*time.Minute); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if gotTitle != "Playlog - Run Complete" {
		t.Errorf("title = %q", gotTitle)
	}
	if gotTags != "playlog,run,completed" {
		t.Errorf("tags = %q", gotTags)
	}
	if !strings.Contains(gotBody, "Fetched 120") {
		t.Errorf("body = %q", gotBody)
	}

	resumeAt := time.Now().Add(time.Hour)
	if err := svc.NotifyRateLimited(context.Background(), resumeAt); err != nil {
		t.Fatalf("NotifyRateLimited: %v", err)
	}
	if gotPriority != "high" {
		t.Errorf("rate-limit priority = %q, want high", gotPriority)
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic rejected", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notify.NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error from rejected notification")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"challenge_server/internal/domain"
)

func TestDispatchFansOutToConfiguredChannels(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(Channels{
		EmailWebhook: srv.URL + "/email",
		ChatWebhook:  srv.URL + "/chat",
	})

	attempted := n.Dispatch(context.Background(), domain.MonitoringAlert{
		ID:      "alert-1",
		Level:   domain.AlertCritical,
		Kind:    domain.AlertKindViolation,
		Message: "challenge failed",
	})

	if len(attempted) != 2 || attempted[0] != "email" || attempted[1] != "chat" {
		t.Fatalf("attempted = %v", attempted)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("webhook hits = %d, want 2", got)
	}
}

func TestDispatchSurvivesDeadChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	dead := srv.URL + "/chat"
	srv.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer live.Close()

	n := NewWebhookNotifier(Channels{
		EmailWebhook: live.URL + "/email",
		ChatWebhook:  dead,
	})

	attempted := n.Dispatch(context.Background(), domain.MonitoringAlert{ID: "alert-1"})
	if len(attempted) != 2 {
		t.Fatalf("dead channel must still be reported as attempted: %v", attempted)
	}
}

func TestDispatchWithNoChannels(t *testing.T) {
	n := NewWebhookNotifier(Channels{})
	if attempted := n.Dispatch(context.Background(), domain.MonitoringAlert{ID: "alert-1"}); len(attempted) != 0 {
		t.Fatalf("attempted = %v, want none", attempted)
	}
}

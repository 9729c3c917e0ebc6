package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"latencyprobe/internal/domain"
)

func TestHTTP_StatusOK(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	}))
	defer s.Close()

	p := NewHTTP(s.URL, 2*time.Second)
	res := p.Probe(context.Background())
	if res.Status != domain.StatusSuccess {
		t.Fatalf("want success, got %+v reason=%v", res, deref(res.Reason))
	}
	if res.DurationMS == nil || *res.DurationMS < 0 {
		t.Fatalf("bad duration: %+v", res.DurationMS)
	}
	if res.Reason != nil {
		t.Fatalf("reason must be absent on success, got %q", *res.Reason)
	}
}

func TestHTTP_Status500(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 500)
	}))
	defer s.Close()

	p := NewHTTP(s.URL, 2*time.Second)
	res := p.Probe(context.Background())
	if res.Status != domain.StatusError {
		t.Fatalf("want error, got %+v", res)
	}
	if res.Reason == nil || !strings.Contains(*res.Reason, "500") {
		t.Fatalf("reason should carry the status, got %v", deref(res.Reason))
	}
	if res.DurationMS != nil {
		t.Fatalf("duration must be absent on error, got %v", *res.DurationMS)
	}
}

func TestHTTP_Timeout(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer s.Close()

	p := NewHTTP(s.URL, 50*time.Millisecond)
	res := p.Probe(context.Background())
	if res.Status != domain.StatusError {
		t.Fatalf("want error, got %+v", res)
	}
	if res.Reason == nil || *res.Reason != "timeout" {
		t.Fatalf("want reason timeout, got %v", deref(res.Reason))
	}
}

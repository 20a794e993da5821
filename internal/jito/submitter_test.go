package jito

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func okServer(t *testing.T, bundleID string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"` + bundleID + `"}`))
	}))
}

func failServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
}

func TestSubmitBundle_FirstOKWins(t *testing.T) {
	good := okServer(t, "bundle-good")
	defer good.Close()
	bad := failServer(t)
	defer bad.Close()

	s := New(map[string]string{
		"good": good.URL,
		"bad":  bad.URL,
	}, zerolog.Nop())

	winner, results, err := s.SubmitBundle(context.Background(), []string{"dGVzdA=="})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if winner.Region != "good" || winner.BundleID != "bundle-good" {
		t.Fatalf("unexpected winner: %+v", winner)
	}
	if len(results) == 0 {
		t.Fatal("expected at least the winning region's result recorded")
	}
}

func TestSubmitBundle_AllFailAggregates(t *testing.T) {
	bad1 := failServer(t)
	defer bad1.Close()
	bad2 := failServer(t)
	defer bad2.Close()

	s := New(map[string]string{
		"r1": bad1.URL,
		"r2": bad2.URL,
	}, zerolog.Nop())

	winner, results, err := s.SubmitBundle(context.Background(), []string{"dGVzdA=="})
	if err == nil {
		t.Fatal("expected error when all regions fail")
	}
	if winner != nil {
		t.Fatalf("expected no winner, got %+v", winner)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !strings.Contains(err.Error(), "all regions failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRandomTipAccount_ReturnsFromDocumentedSet(t *testing.T) {
	got := RandomTipAccount()
	found := false
	for _, a := range TipAccounts {
		if a == got {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("tip account %q not in documented set", got)
	}
}

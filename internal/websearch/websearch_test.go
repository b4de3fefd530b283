package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchBraveParsesWebResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key" {
			t.Errorf("expected subscription token header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Go","url":"https://go.dev","description":"lang"}]}}`))
	}))
	defer srv.Close()

	c := New(Config{BraveAPIKey: "key"}, srv.Client())
	hits, err := c.searchBrave(context.Background(), "/web/search", "golang")
	if err != nil {
		t.Fatalf("searchBrave: %v", err)
	}
	if len(hits) != 1 || hits[0].URL != "https://go.dev" {
		t.Errorf("expected one parsed hit, got %+v", hits)
	}
}

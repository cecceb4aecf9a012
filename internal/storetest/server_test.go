package storetest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/remoteconf/provider/internal/model"
	"github.com/remoteconf/provider/internal/storeclient"
)

func strPtr(s string) *string { return &s }

func TestListSettingsFiltersByKeyAndLabel(t *testing.T) {
	srv := New([]model.Setting{
		{Key: "app.name", Value: strPtr("demo"), ETag: "e1"},
		{Key: "app.db", Value: strPtr("localhost"), Label: "prod", ETag: "e2"},
	})
	defer srv.Close()

	client := storeclient.NewHTTPClient(srv.URL, nil)
	page, _, err := client.GetSettings(context.Background(), model.Selector{KeyFilter: "app*", LabelFilter: "prod"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Settings) != 1 || page.Settings[0].Key != "app.db" {
		t.Errorf("got %+v", page.Settings)
	}
}

func TestListSettingsReturnsNotModifiedOnMatchingETag(t *testing.T) {
	srv := New([]model.Setting{{Key: "k", Value: strPtr("v"), ETag: "e1"}})
	defer srv.Close()

	client := storeclient.NewHTTPClient(srv.URL, nil)
	page, _, err := client.GetSettings(context.Background(), model.Selector{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, notModified, err := client.GetSettings(context.Background(), model.Selector{}, page.ETag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !notModified {
		t.Fatal("expected not-modified on repeated request with matching etag")
	}
}

func TestSetSettingsChangesPageETag(t *testing.T) {
	srv := New([]model.Setting{{Key: "k", Value: strPtr("v1"), ETag: "e1"}})
	defer srv.Close()

	client := storeclient.NewHTTPClient(srv.URL, nil)
	page1, _, err := client.GetSettings(context.Background(), model.Selector{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv.SetSettings([]model.Setting{{Key: "k", Value: strPtr("v2"), ETag: "e2"}})
	page2, notModified, err := client.GetSettings(context.Background(), model.Selector{}, page1.ETag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notModified {
		t.Fatal("expected change to be detected after SetSettings")
	}
	if page2.ETag == page1.ETag {
		t.Error("expected page etag to change")
	}
}

func TestFailNextRequestsSimulatesOutage(t *testing.T) {
	srv := New([]model.Setting{{Key: "k", Value: strPtr("v"), ETag: "e1"}})
	defer srv.Close()
	srv.FailNextRequests(2, http.StatusServiceUnavailable)

	client := storeclient.NewHTTPClient(srv.URL, nil)
	for i := 0; i < 2; i++ {
		if _, _, err := client.GetSettings(context.Background(), model.Selector{}, ""); err == nil {
			t.Fatalf("request %d: expected injected failure", i)
		}
	}
	if _, _, err := client.GetSettings(context.Background(), model.Selector{}, ""); err != nil {
		t.Fatalf("expected third request to succeed, got %v", err)
	}
}

func TestRateLimitProduces429(t *testing.T) {
	srv := New([]model.Setting{{Key: "k", Value: strPtr("v"), ETag: "e1"}}, WithRateLimit(1, time.Minute))
	defer srv.Close()

	client := storeclient.NewHTTPClient(srv.URL, nil)
	if _, _, err := client.GetSettings(context.Background(), model.Selector{}, ""); err != nil {
		t.Fatalf("first request should succeed: %v", err)
	}
	_, _, err := client.GetSettings(context.Background(), model.Selector{}, "")
	if err == nil {
		t.Fatal("expected second request to be rate-limited")
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	srv := New(nil)
	defer srv.Close()
	srv.SetSnapshot(
		model.Snapshot{Name: "release-1", CompositionType: model.CompositionTypeKey},
		[]model.Setting{{Key: "k", Value: strPtr("v"), ETag: "e1"}},
	)

	client := storeclient.NewHTTPClient(srv.URL, nil)
	snap, err := client.GetSnapshot(context.Background(), "release-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.CompositionType != model.CompositionTypeKey {
		t.Errorf("got %+v", snap)
	}

	page, err := client.GetSnapshotSettings(context.Background(), "release-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Settings) != 1 {
		t.Errorf("got %+v", page.Settings)
	}
}

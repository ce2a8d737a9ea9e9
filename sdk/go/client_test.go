package vectorsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"vector/internal/engine/auth"
)

func TestGetJourneyUsesBasePathAndActor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/client/CLT_DEMO_01/journey" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Actor-Id"); got != "dr-lee" {
			t.Errorf("actor header %q", got)
		}
		w.Write([]byte(`{"client":{"id":"CLT_DEMO_01","journeyId":"JRN_DEMO_ACL"},"phases":[{"id":"P1","status":"active","criteria":[{"metricName":"knee_extension","met":false}]}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = "dr-lee"
	j, err := c.GetJourney(context.Background(), "CLT_DEMO_01")
	if err != nil {
		t.Fatalf("get journey: %v", err)
	}
	if j.Client.JourneyID != "JRN_DEMO_ACL" || len(j.Phases) != 1 || j.Phases[0].Criteria[0].MetricName != "knee_extension" {
		t.Fatalf("unexpected journey %+v", j)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"no active journey"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).RecordMetric(context.Background(), MetricInput{ClientID: "x", MetricName: "y", Value: "1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestSendTreatmentNoteSigns(t *testing.T) {
	payload := []byte(`{"event":"treatment_note.created","patient":{"external_id":"CLT_DEMO_01"}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(payload) {
			t.Errorf("body was re-encoded: %s", body)
		}
		if err := auth.Verify(body, "clinic-secret", r.Header.Get(auth.SignatureHeader)); err != nil {
			t.Errorf("signature: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "processed", "metrics_recorded": 0})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.WebhookSecret = "clinic-secret"
	res, err := c.SendTreatmentNote(context.Background(), payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != "processed" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("cursor") != "42" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"items":[{"id":41,"type":"journey.read"}],"next_cursor":"41"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), 5, "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.NextCursor != "41" {
		t.Fatalf("unexpected page %+v", page)
	}
}

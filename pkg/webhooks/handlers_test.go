package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func newTestServer(t *testing.T) (*httptest.Server, *testPipeline) {
	t.Helper()
	p := newTestPipeline(t, nil)
	emitter := newTestEmitter(p)
	handlers := NewHandlers(p.registry, emitter, p.engine, p.store, testLogger())

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, p
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHandlers_RegisterEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/orgs/org-1/webhooks", map[string]interface{}{
		"url":    "https://hooks.example.com/crm",
		"events": []string{"lead.created"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["secret"] == "" || body["secret"] == nil {
		t.Error("Expected the secret in the registration response")
	}
	if body["org_id"] != "org-1" {
		t.Errorf("Expected org_id org-1, got %v", body["org_id"])
	}
}

func TestHandlers_RegisterEndpoint_Validation(t *testing.T) {
	server, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"http url", map[string]interface{}{"url": "http://insecure.example.com", "events": []string{"lead.created"}}},
		{"no events", map[string]interface{}{"url": "https://hooks.example.com/x", "events": []string{}}},
		{"unknown event", map[string]interface{}{"url": "https://hooks.example.com/x", "events": []string{"nope"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/orgs/org-1/webhooks", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestHandlers_ListRedactsSecrets(t *testing.T) {
	server, p := newTestServer(t)
	p.seedEndpoint(t, "https://hooks.example.com/a", 5)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/orgs/org-1/webhooks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	endpoints, ok := body["endpoints"].([]interface{})
	if !ok || len(endpoints) != 1 {
		t.Fatalf("Expected 1 endpoint, got %v", body["endpoints"])
	}
	ep := endpoints[0].(map[string]interface{})
	if secret, present := ep["secret"]; present && secret != "" {
		t.Errorf("Expected secret to be redacted, got %v", secret)
	}
}

func TestHandlers_GetEndpoint_OrgScoping(t *testing.T) {
	server, p := newTestServer(t)
	ep := p.seedEndpoint(t, "https://hooks.example.com/a", 5)

	resp, _ := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/orgs/org-2/webhooks/%s", server.URL, ep.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for a cross-org lookup, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/orgs/org-1/webhooks/%s", server.URL, ep.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for the owning org, got %d", resp.StatusCode)
	}
}

func TestHandlers_EmitEvent(t *testing.T) {
	server, p := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/orgs/org-1/events", map[string]interface{}{
		"type": "lead.created",
		"data": map[string]interface{}{"name": "Acme"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %v", resp.StatusCode, body)
	}
	eventID, _ := body["id"].(string)
	if eventID == "" {
		t.Fatal("Expected the event ID in the response")
	}

	if _, err := p.store.GetEvent(context.Background(), eventID); err != nil {
		t.Errorf("Expected the event to be persisted: %v", err)
	}
}

func TestHandlers_EmitEvent_UnknownType(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/orgs/org-1/events", map[string]interface{}{
		"type": "bogus.event",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestHandlers_CancelDelivery(t *testing.T) {
	server, p := newTestServer(t)
	ep := p.seedEndpoint(t, "https://hooks.example.com/a", 5)
	d := p.seedDelivery(t, ep.ID)

	url := fmt.Sprintf("%s/api/v1/orgs/org-1/deliveries/%s/cancel", server.URL, d.ID)

	resp, body := doJSON(t, http.MethodPost, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["status"] != string(DeliveryCancelled) {
		t.Errorf("Expected status CANCELLED, got %v", body["status"])
	}

	// A second cancel hits the terminal guard
	resp, _ = doJSON(t, http.MethodPost, url, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 on double cancel, got %d", resp.StatusCode)
	}
}

func TestHandlers_CancelDelivery_OrgScoping(t *testing.T) {
	server, p := newTestServer(t)
	ep := p.seedEndpoint(t, "https://hooks.example.com/a", 5)
	d := p.seedDelivery(t, ep.ID)

	resp, _ := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/v1/orgs/org-2/deliveries/%s/cancel", server.URL, d.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 for a cross-org cancel, got %d", resp.StatusCode)
	}

	got, err := p.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Failed to load delivery: %v", err)
	}
	if got.Status != DeliveryPending {
		t.Errorf("Expected the delivery to stay PENDING, got %v", got.Status)
	}
}

func TestHandlers_CancelDelivery_NotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/orgs/org-1/deliveries/missing/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestHandlers_RotateSecret(t *testing.T) {
	server, p := newTestServer(t)
	ep := p.seedEndpoint(t, "https://hooks.example.com/a", 5)
	oldSecret := ep.Secret

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/v1/orgs/org-1/webhooks/%s/rotate-secret", server.URL, ep.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	newSecret, _ := body["secret"].(string)
	if newSecret == "" || newSecret == oldSecret {
		t.Errorf("Expected a fresh secret, got %q", newSecret)
	}
}

func TestHandlers_Stats(t *testing.T) {
	server, p := newTestServer(t)
	ep := p.seedEndpoint(t, "https://hooks.example.com/a", 5)
	p.seedDelivery(t, ep.ID)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/orgs/org-1/webhooks/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["total_endpoints"] != float64(1) {
		t.Errorf("Expected 1 total endpoint, got %v", body["total_endpoints"])
	}
	if body["pending"] != float64(1) {
		t.Errorf("Expected 1 pending delivery, got %v", body["pending"])
	}
}

func TestHandlers_ListEventTypes(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/event-types", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	types, ok := body["event_types"].([]interface{})
	if !ok || len(types) == 0 {
		t.Fatalf("Expected a non-empty event type catalog, got %v", body["event_types"])
	}
}

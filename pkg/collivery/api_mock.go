package collivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tournevent/collivery/pkg/vat"
)

// MockHandler answers one mocked route.
type MockHandler func(ctx context.Context, path string, params map[string]any) (json.RawMessage, error)

// MockCall is a request received by MockAPIClient.
type MockCall struct {
	Method string
	Path   string
	Params map[string]any
}

// MockAPIClient is a mock implementation of APIClient for testing. It
// serves a small demo account: client 10 with addresses 100 and 200,
// contacts 1000 and 2000, towns 147 and 200, services 1, 2 and 5.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	mu     sync.Mutex
	routes map[string]MockHandler
	calls  []MockCall
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	m := &MockAPIClient{routes: make(map[string]MockHandler)}

	m.Handle(http.MethodPost, "/v3/login", mockLogin)
	m.Handle(http.MethodGet, "/v3/towns", mockTowns)
	m.Handle(http.MethodGet, "/v3/suburbs", mockSuburbs)
	m.Handle(http.MethodGet, "/v3/location_types", mockJSON(`{"data":[{"id":1,"name":"Business Premises"},{"id":15,"name":"Private House"}]}`))
	m.Handle(http.MethodGet, "/v3/service_types", mockJSON(`{"data":[{"id":1,"text":"Overnight before 10:00"},{"id":2,"text":"Overnight before 16:00"},{"id":5,"text":"Road Freight Express"}]}`))
	m.Handle(http.MethodGet, "/v3/parcel_types", mockJSON(`{"data":[{"id":1,"type_text":"Envelope","type_description":"Documents"},{"id":2,"type_text":"Package","type_description":"Boxed goods"}]}`))
	m.Handle(http.MethodGet, "/v3/address", mockJSON(`{"data":[`+mockAddresses[100]+`,`+mockAddresses[200]+`]}`))
	m.Handle(http.MethodGet, "/v3/address/{id}", mockAddress)
	m.Handle(http.MethodPost, "/v3/address", mockJSON(`{"data":{"id":300,"street":"New Street","town_id":147,"suburb_id":1936}}`))
	m.Handle(http.MethodGet, "/v3/contacts", mockContacts)
	m.Handle(http.MethodPost, "/v3/contacts", mockJSON(`{"data":{"id":3000}}`))
	m.Handle(http.MethodPost, "/v3/quote", mockQuote)
	m.Handle(http.MethodPost, "/v3/waybill", mockJSON(`{"data":{"id":5001}}`))
	m.Handle(http.MethodGet, "/v3/waybill/{id}", mockWaybillDocument)
	m.Handle(http.MethodGet, "/v3/status_tracking/{id}", mockStatus)
	m.Handle(http.MethodPost, "/v3/status_tracking/{id}", mockStatus)
	m.Handle(http.MethodGet, "/v3/proofs_of_delivery", mockWaybillDocument)
	m.Handle(http.MethodGet, "/v3/parcel_images", mockParcelImages)
	m.Handle(http.MethodGet, "/v3/parcel_images/{id}", mockParcelImage)

	return m
}

// Handle replaces the handler of a route. A trailing /{id} segment matches
// any id.
func (m *MockAPIClient) Handle(method, path string, handler MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+path] = handler
}

// Calls returns the requests received so far.
func (m *MockAPIClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns how many requests matched method and path. An empty
// method matches any method.
func (m *MockAPIClient) CallCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.calls {
		if (method == "" || call.Method == method) && call.Path == path {
			n++
		}
	}
	return n
}

// Reset forgets the recorded requests.
func (m *MockAPIClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Request implements APIClient.
func (m *MockAPIClient) Request(ctx context.Context, method, path string, params map[string]any) (json.RawMessage, error) {
	if m.SimulateLatency > 0 {
		select {
		case <-time.After(m.SimulateLatency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	recorded := make(map[string]any, len(params))
	for k, v := range params {
		recorded[k] = v
	}
	m.calls = append(m.calls, MockCall{Method: method, Path: path, Params: recorded})
	handler, ok := m.routes[method+" "+path]
	if !ok {
		if i := strings.LastIndex(path, "/"); i > 0 {
			handler, ok = m.routes[method+" "+path[:i]+"/{id}"]
		}
	}
	m.mu.Unlock()

	if m.SimulateErrors {
		return nil, &APIError{StatusCode: http.StatusInternalServerError, Message: "Simulated API error"}
	}
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "Not Found"}
	}
	return handler(ctx, path, params)
}

// ============================================================================
// Canned responses
// ============================================================================

var mockAddresses = map[int]string{
	100: `{"id":100,"company_name":"MDS Collivery","street_number":"58C","street":"Webber Street","town_id":147,"suburb_id":1936,"short_text":"MDS Collivery, Selby"}`,
	200: `{"id":200,"company_name":"Cape Depot","street_number":"1","street":"Long Street","town_id":200,"suburb_id":2001,"short_text":"Cape Depot, Gardens"}`,
}

var mockContactLists = map[int]string{
	100: `[{"id":1000,"address_id":100,"full_name":"Jo Dispatch","phone":"0111234567","email":"dispatch@example.com"}]`,
	200: `[{"id":2000,"address_id":200,"full_name":"Sam Receiving","cellphone":"0821234567","email":"receiving@example.com"}]`,
}

func mockJSON(body string) MockHandler {
	return func(context.Context, string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}
}

func mockLogin(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	email, _ := params["email"].(string)
	resp := map[string]any{
		"id":            1,
		"email_address": email,
		"api_token":     "mock-token",
		"client": map[string]any{
			"id":              10,
			"primary_address": map[string]any{"id": 100},
		},
	}
	return json.Marshal(resp)
}

func mockTowns(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	towns := []map[string]any{
		{"id": 147, "name": "Johannesburg", "province": "GP"},
		{"id": 200, "name": "Cape Town", "province": "WC"},
	}
	search, _ := params["search"].(string)
	province, _ := params["province"].(string)

	out := make([]map[string]any, 0, len(towns))
	for _, town := range towns {
		name := town["name"].(string)
		if search != "" && !strings.HasPrefix(strings.ToLower(name), strings.ToLower(search)) {
			continue
		}
		if province != "" && town["province"] != province {
			continue
		}
		out = append(out, town)
	}
	return json.Marshal(map[string]any{"data": out})
}

func mockSuburbs(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	switch mockInt(params["town_id"]) {
	case 147:
		return json.RawMessage(`{"data":[{"id":1936,"name":"Selby"},{"id":1937,"name":"Sandton"}]}`), nil
	case 200:
		return json.RawMessage(`{"data":[{"id":2001,"name":"Gardens"}]}`), nil
	}
	return json.RawMessage(`{"data":[]}`), nil
}

func mockAddress(_ context.Context, path string, _ map[string]any) (json.RawMessage, error) {
	id := mockInt(path[strings.LastIndex(path, "/")+1:])
	addr, ok := mockAddresses[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "Address not found."}
	}
	return json.RawMessage(`{"data":` + addr + `}`), nil
}

func mockContacts(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	list, ok := mockContactLists[mockInt(params["address_id"])]
	if !ok {
		list = `[]`
	}
	return json.RawMessage(`{"data":` + list + `}`), nil
}

func mockQuote(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	collection := time.Now().In(vat.Location).Add(24 * time.Hour).Truncate(time.Hour)
	if s, ok := params["collection_time"].(string); ok {
		if t, err := time.ParseInLocation(collectionTimeLayout, s, vat.Location); err == nil {
			collection = t
		}
	}
	delivery := collection.Add(24 * time.Hour)

	surcharges := []string{}
	if cover, _ := params["risk_cover"].(bool); cover {
		surcharges = append(surcharges, "riskCover")
	}

	return json.Marshal(map[string]any{
		"data": []map[string]any{{"total": 100, "delivery_type": "ONX"}},
		"meta": map[string]any{
			"times": []map[string]string{
				{"collection_time": collection.Format("2006-01-02 15:04:05")},
				{"delivery_time": delivery.Format("2006-01-02 15:04:05")},
			},
			"surcharges": surcharges,
		},
	})
}

func mockStatus(_ context.Context, path string, params map[string]any) (json.RawMessage, error) {
	id := mockInt(path[strings.LastIndex(path, "/")+1:])
	statusID, name := 1, "Waiting Client Acceptance"
	if mockInt(params["status_id"]) == StatusAccepted {
		statusID, name = StatusAccepted, "Accepted"
	}
	return json.Marshal(map[string]any{"data": map[string]any{
		"waybill_id":  id,
		"status_id":   statusID,
		"status_name": name,
		"created_at":  time.Now().Format(time.RFC3339),
	}})
}

func mockWaybillDocument(_ context.Context, path string, params map[string]any) (json.RawMessage, error) {
	id := mockInt(params["waybill_id"])
	if id == 0 {
		id = mockInt(path[strings.LastIndex(path, "/")+1:])
	}
	return json.Marshal(map[string]any{"data": map[string]any{
		"waybill_id": id,
		"file_name":  fmt.Sprintf("%d.pdf", id),
		"mime":       "application/pdf",
	}})
}

func mockParcelImages(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	id := mockInt(params["waybill_id"])
	return json.Marshal(map[string]any{"data": []map[string]any{
		{"parcel_id": fmt.Sprintf("%d-1", id), "mime": "image/jpeg"},
	}})
}

func mockParcelImage(_ context.Context, path string, _ map[string]any) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"data": map[string]any{
		"parcel_id": path[strings.LastIndex(path, "/")+1:],
		"mime":      "image/jpeg",
		"image":     "aW1hZ2U=",
	}})
}

func mockInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}

// Ensure MockAPIClient implements APIClient.
var _ APIClient = (*MockAPIClient)(nil)

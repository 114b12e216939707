package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shelfi/shelfd/internal/config"
	"github.com/shelfi/shelfd/internal/engine"
	"github.com/shelfi/shelfd/internal/ledger"
	"github.com/shelfi/shelfd/internal/model"
	"github.com/shelfi/shelfd/internal/obs"
	"github.com/shelfi/shelfd/internal/queue"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() config.Config {
	return config.Config{
		NoiseMargin:       dec("0.02"),
		MatchMargin:       dec("0.025"),
		CatalogMaxEntries: 200000,
		DrainBatch:        3,
		UnlabeledWindow:   20,
		ClampToCapacity:   true,
	}
}

func setupApp(t *testing.T) (*App, *engine.Engine, *ledger.Ledger, http.Handler) {
	t.Helper()
	obs.InitLogger()
	cfg := testConfig()
	led := ledger.New()
	q := queue.New(16)
	eng := engine.New(cfg, q, led, nil)
	app := NewApp(cfg, eng, led, q)
	return app, eng, led, NewRouter(app)
}

func setRoster(t *testing.T, eng *engine.Engine) {
	t.Helper()
	err := eng.SetRoster([]model.Product{
		{Name: "A", UnitWeight: dec("0.100"), ShelfQuantity: 2},
		{Name: "B", UnitWeight: dec("0.250"), ShelfQuantity: 1},
	})
	if err != nil {
		t.Fatalf("set roster: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestPostObservationAccepted(t *testing.T) {
	_, _, _, h := setupApp(t)
	w := doJSON(t, h, http.MethodPost, "/observations", `{"ts":"10:00:01","weight":1.0}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var ack observationAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "accepted" || ack.TS != "10:00:01" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestPostObservationValidation(t *testing.T) {
	_, _, _, h := setupApp(t)
	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing weight", `{"ts":"10:00:01"}`, http.StatusBadRequest},
		{"negative weight", `{"weight":-1}`, http.StatusBadRequest},
		{"unknown field", `{"weight":1,"bogus":true}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := doJSON(t, h, http.MethodPost, "/observations", tc.body)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
	// Content type is enforced.
	r := httptest.NewRequest(http.MethodPost, "/observations", bytes.NewBufferString(`{"weight":1}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/observations", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestPostObservationDuringShutdown(t *testing.T) {
	app, _, _, h := setupApp(t)
	app.StartShutdown()
	w := doJSON(t, h, http.MethodPost, "/observations", `{"weight":1}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestRosterRebuildAndCatalog(t *testing.T) {
	_, _, _, h := setupApp(t)
	if w := doJSON(t, h, http.MethodGet, "/catalog", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before roster, got %d", w.Code)
	}
	body := `{"products":[{"name":"A","unit_weight_kg":0.100,"shelf_quantity":2},{"name":"B","unit_weight_kg":0.250,"shelf_quantity":1}]}`
	w := doJSON(t, h, http.MethodPost, "/roster", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status  string `json:"status"`
		Entries int    `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "rebuilt" || resp.Entries != 5 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	w = doJSON(t, h, http.MethodGet, "/catalog", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cat struct {
		Size    int               `json:"size"`
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cat); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if cat.Size != 5 || len(cat.Entries) != 5 {
		t.Fatalf("unexpected catalog: size=%d entries=%d", cat.Size, len(cat.Entries))
	}

	w = doJSON(t, h, http.MethodGet, "/catalog.csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "Combination,Total Weight\n") {
		t.Fatalf("unexpected csv: %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "A+A+B,0.450\n") {
		t.Fatalf("missing row: %q", w.Body.String())
	}
}

func TestRosterRejections(t *testing.T) {
	_, _, _, h := setupApp(t)
	w := doJSON(t, h, http.MethodPost, "/roster", `{"products":[{"name":"A","unit_weight_kg":0,"shelf_quantity":1}]}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	big := `{"products":[{"name":"A","unit_weight_kg":0.1,"shelf_quantity":999},{"name":"B","unit_weight_kg":0.2,"shelf_quantity":999}]}`
	w = doJSON(t, h, http.MethodPost, "/roster", big)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	// Failed rebuilds keep the previous catalog intact.
	good := `{"products":[{"name":"A","unit_weight_kg":0.1,"shelf_quantity":1}]}`
	if w := doJSON(t, h, http.MethodPost, "/roster", good); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/roster", big); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/catalog", ""); w.Code != http.StatusOK {
		t.Fatalf("previous catalog lost after failed rebuild: %d", w.Code)
	}
}

func TestLabelEndpoints(t *testing.T) {
	_, eng, led, h := setupApp(t)
	setRoster(t, eng)
	ev := led.Append(model.ClassifiedEvent{
		Observation:  model.Observation{TS: "10:00:02", Weight: dec("0.750")},
		Delta:        dec("-0.250"),
		Action:       model.ActionRemoved,
		MatchedLabel: "B",
	})

	w := doJSON(t, h, http.MethodPost, "/events/"+ev.ID+"/label", `{"actual_label":"B"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var labeled model.ClassifiedEvent
	if err := json.Unmarshal(w.Body.Bytes(), &labeled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if labeled.ActualLabel != "B" {
		t.Fatalf("unexpected event: %+v", labeled)
	}

	if w := doJSON(t, h, http.MethodPost, "/events/"+ev.ID+"/label", `{"actual_label":"B"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/events/nope/label", `{"actual_label":"B"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	ev2 := led.Append(model.ClassifiedEvent{
		Observation: model.Observation{TS: "10:00:03", Weight: dec("0.500")},
		Delta:       dec("-0.250"),
		Action:      model.ActionRemoved,
	})
	if w := doJSON(t, h, http.MethodPost, "/events/"+ev2.ID+"/label", `{"actual_label":"Z"}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/events/"+ev2.ID+"/label", `{"actual_label":""}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/inventory", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var inv map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &inv); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	if inv["B"] != 0 || inv["A"] != 2 {
		t.Fatalf("unexpected inventory: %v", inv)
	}
}

func TestEventWindows(t *testing.T) {
	_, _, led, h := setupApp(t)
	for _, ts := range []string{"10:00:01", "10:00:02", "10:00:03"} {
		led.Append(model.ClassifiedEvent{Observation: model.Observation{TS: ts, Weight: dec("1.0")}})
	}
	w := doJSON(t, h, http.MethodGet, "/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []model.ClassifiedEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	w = doJSON(t, h, http.MethodGet, "/events/unlabeled?limit=2", "")
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 || events[1].Observation.TS != "10:00:03" {
		t.Fatalf("unexpected window: %+v", events)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, _, h := setupApp(t)
	if w := doJSON(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	w := doJSON(t, h, http.MethodGet, "/debug/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if _, ok := m["observations_enqueued"]; !ok {
		t.Fatalf("missing counter: %v", m)
	}
}

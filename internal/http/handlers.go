package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shelfi/shelfd/internal/catalog"
	"github.com/shelfi/shelfd/internal/config"
	"github.com/shelfi/shelfd/internal/engine"
	"github.com/shelfi/shelfd/internal/inventory"
	"github.com/shelfi/shelfd/internal/ledger"
	"github.com/shelfi/shelfd/internal/model"
	"github.com/shelfi/shelfd/internal/obs"
	"github.com/shelfi/shelfd/internal/queue"
)

// App holds the handler dependencies.
type App struct {
	Cfg     config.Config
	Engine  *engine.Engine
	Ledger  *ledger.Ledger
	Queue   *queue.Queue
	closing bool
	started time.Time
}

// NewApp wires the HTTP layer to the engine.
func NewApp(cfg config.Config, eng *engine.Engine, led *ledger.Ledger, q *queue.Queue) *App {
	return &App{Cfg: cfg, Engine: eng, Ledger: led, Queue: q, started: time.Now()}
}

// StartShutdown stops intake so the queue can drain before exit.
func (a *App) StartShutdown() {
	a.closing = true
	a.Queue.CloseIntake()
}

type observationBody struct {
	TS     string           `json:"ts"`
	Weight *decimal.Decimal `json:"weight"`
}

type observationAck struct {
	Status      string `json:"status"`
	RequestID   string `json:"request_id"`
	TS          string `json:"ts"`
	ReceivedAt  string `json:"received_at"`
	QueueDepth  int    `json:"queue_depth"`
	BacklogSize int    `json:"backlog_size"`
}

// postObservationsHandler accepts telemetry pushed over HTTP instead of
// MQTT. Malformed records are rejected here and never reach the
// classifier.
func (a *App) postObservationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if a.closing || a.Queue.IsShuttingDown() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return
	}
	var body observationBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if body.Weight == nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "weight is required")
		return
	}
	if body.Weight.IsNegative() {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "weight must be >= 0")
		return
	}
	ts := body.TS
	if ts == "" {
		ts = time.Now().UTC().Format("15:04:05")
	}
	o := model.Observation{TS: ts, Weight: *body.Weight}
	if ok := a.Queue.Enqueue(o); !ok {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ack := observationAck{
		Status:      "accepted",
		RequestID:   RequestIDFromContext(r.Context()),
		TS:          ts,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
		QueueDepth:  a.Queue.Depth(),
		BacklogSize: a.Queue.BacklogSize(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(ack)
	obs.Logger.Info("observation_accepted",
		"request_id", ack.RequestID,
		"ts", ts,
		"queue_depth", ack.QueueDepth,
	)
}

// inventoryHandler serves the read-only quantity snapshot.
func (a *App) inventoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.Engine.Inventory())
}

// eventsHandler serves the recent ledger window.
func (a *App) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	limit := intQuery(r, "limit", 50)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.Ledger.Recent(limit))
}

// eventsSubHandler dispatches /events/unlabeled and /events/{id}/label.
func (a *App) eventsSubHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/events/")
	switch {
	case rest == "unlabeled":
		if r.Method != http.MethodGet {
			WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
			return
		}
		limit := intQuery(r, "limit", a.Cfg.UnlabeledWindow)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Ledger.Unlabeled(limit))
	case strings.HasSuffix(rest, "/label"):
		a.labelHandler(w, r, strings.TrimSuffix(rest, "/label"))
	default:
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
	}
}

type labelBody struct {
	ActualLabel string `json:"actual_label"`
}

// labelHandler records ground truth for one event.
func (a *App) labelHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if id == "" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	var body labelBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if body.ActualLabel == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "actual_label is required")
		return
	}
	ev, err := a.Engine.Label(id, body.ActualLabel)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ev)
	case errors.Is(err, ledger.ErrNotFound):
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
	case errors.Is(err, ledger.ErrAlreadyLabeled):
		WriteJSONError(w, http.StatusConflict, "already_labeled", "")
	case errors.Is(err, inventory.ErrUnknownProduct):
		WriteJSONError(w, http.StatusUnprocessableEntity, "unknown_product", err.Error())
	default:
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

type rosterBody struct {
	Products []model.Product `json:"products"`
}

// rosterHandler replaces the roster and rebuilds the catalog. On failure
// the previous catalog stays in effect.
func (a *App) rosterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var body rosterBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	err := a.Engine.SetRoster(body.Products)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "rebuilt",
			"entries": a.Engine.Catalog().Size(),
		})
	case errors.Is(err, catalog.ErrInvalidRoster):
		WriteJSONError(w, http.StatusUnprocessableEntity, "invalid_roster", err.Error())
	case errors.Is(err, catalog.ErrCatalogTooLarge):
		WriteJSONError(w, http.StatusRequestEntityTooLarge, "catalog_too_large", err.Error())
	default:
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// catalogHandler serves the combination catalog as JSON.
func (a *App) catalogHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	cat := a.Engine.Catalog()
	if cat == nil {
		WriteJSONError(w, http.StatusNotFound, "not_found", "no catalog built")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"size":    cat.Size(),
		"entries": cat.Entries(),
	})
}

// catalogCSVHandler serves the tabular export for external tools.
func (a *App) catalogCSVHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	cat := a.Engine.Catalog()
	if cat == nil {
		WriteJSONError(w, http.StatusNotFound, "not_found", "no catalog built")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="catalog.csv"`)
	if err := cat.WriteCSV(w); err != nil {
		obs.Logger.Error("catalog_csv_write_error", "error", err)
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	enq, proc, backlog, depth := a.Queue.Metrics()
	pm := a.Engine.PipelineMetrics()
	m := map[string]any{
		"observations_enqueued":  enq,
		"observations_processed": proc,
		"backlog_size":           backlog,
		"queue_depth":            depth,
		"dropped_duplicates":     pm.DroppedDuplicates,
		"dropped_out_of_order":   pm.DroppedOutOfOrder,
		"unresolved_matches":     pm.Unresolved,
		"ledger_size":            a.Ledger.Len(),
		"uptime_sec":             time.Since(a.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m)
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cmdgate/cmdgate/internal/config"
	"github.com/cmdgate/cmdgate/internal/events"
	"github.com/cmdgate/cmdgate/internal/executor"
	"github.com/cmdgate/cmdgate/internal/metrics"
	"github.com/cmdgate/cmdgate/internal/policy"
	"github.com/cmdgate/cmdgate/internal/store"
	"github.com/cmdgate/cmdgate/pkg/types"
)

type App struct {
	cfg     *config.Config
	engine  *policy.Engine
	exec    executor.Executor
	store   store.EventStore
	broker  *events.Broker
	metrics *metrics.Collector

	// defaultTimeoutMs is applied to exec requests that carry no timeout.
	// Zero leaves such requests unbounded.
	defaultTimeoutMs int
}

func NewApp(cfg *config.Config, engine *policy.Engine, exec executor.Executor, st store.EventStore, broker *events.Broker, collector *metrics.Collector) *App {
	a := &App{cfg: cfg, engine: engine, exec: exec, store: st, broker: broker, metrics: collector}
	if cfg != nil && cfg.Exec.DefaultTimeout != "" {
		if d, err := time.ParseDuration(cfg.Exec.DefaultTimeout); err == nil && d > 0 {
			a.defaultTimeoutMs = int(d.Milliseconds())
		}
	}
	return a
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", a.evaluate)
		r.Post("/exec", a.execCommand)

		r.Get("/policy", a.getPolicy)
		r.Put("/policy", a.putPolicy)
		r.Post("/policy/rules", a.addRule)
		r.Delete("/policy/rules/{index}", a.removeRule)

		r.Get("/events/search", a.searchEvents)
		r.Get("/events/stream", a.streamEvents)
	})

	if a.metrics != nil {
		r.Get("/metrics", a.metrics.Handler().ServeHTTP)
	}

	return r
}

func (a *App) evaluate(w http.ResponseWriter, r *http.Request) {
	var req types.CommandRequest
	if ok := decodeJSON(w, r, &req, "invalid json"); !ok {
		return
	}
	res := a.engine.Evaluate(req.CommandLine(), req.Shell)
	writeJSON(w, http.StatusOK, res)
}

func (a *App) getPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Document())
}

func (a *App) putPolicy(w http.ResponseWriter, r *http.Request) {
	var doc types.PolicyDocument
	if ok := decodeJSON(w, r, &doc, "invalid policy document"); !ok {
		return
	}
	if err := validateDocument(&doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	a.engine.SetRules(doc.Rules, doc.DefaultAction)
	writeJSON(w, http.StatusOK, a.engine.Document())
}

func (a *App) addRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		types.Rule
		Index *int `json:"index"`
	}
	if ok := decodeJSON(w, r, &req, "invalid rule"); !ok {
		return
	}
	if err := validateRule(req.Rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if req.Index != nil {
		a.engine.InsertRule(*req.Index, req.Rule)
	} else {
		a.engine.AddRule(req.Rule)
	}
	writeJSON(w, http.StatusCreated, a.engine.Document())
}

func (a *App) removeRule(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "index must be an integer"})
		return
	}
	if !a.engine.RemoveRule(idx) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("no rule at index %d", idx)})
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Document())
}

func (a *App) searchEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	evs, err := a.store.QueryEvents(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if evs == nil {
		evs = []types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// record stamps and fans an event out to the audit store and live
// subscribers. Store failures are logged, never surfaced to the caller.
func (a *App) record(ctx context.Context, ev types.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if a.store != nil {
		if err := a.store.AppendEvent(ctx, ev); err != nil {
			slog.Error("append event failed", "type", ev.Type, "err", err)
		}
	}
	if a.broker != nil {
		a.broker.Publish(ev)
	}
}

func validateDocument(doc *types.PolicyDocument) error {
	if !doc.DefaultAction.Valid() {
		return fmt.Errorf("invalid defaultAction %q", doc.DefaultAction)
	}
	for i, r := range doc.Rules {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

func validateRule(r types.Rule) error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("pattern is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action %q", r.Action)
	}
	return nil
}

func parseEventQuery(r *http.Request) (types.EventQuery, error) {
	v := r.URL.Query()
	var q types.EventQuery
	q.CommandID = v.Get("command_id")
	if t := v.Get("type"); t != "" {
		q.Types = strings.Split(t, ",")
	}
	if decision := v.Get("decision"); decision != "" {
		d := types.Action(decision)
		q.Decision = &d
	}
	q.CommandLike = v.Get("command_like")
	q.TextLike = v.Get("text_like")
	q.Limit, _ = strconv.Atoi(v.Get("limit"))
	q.Offset, _ = strconv.Atoi(v.Get("offset"))
	q.Asc = v.Get("order") == "asc"

	if since := v.Get("since"); since != "" {
		t, err := parseTimeOrAgo(since)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = &t
	}
	if until := v.Get("until"); until != "" {
		t, err := parseTimeOrAgo(until)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = &t
	}
	return q, nil
}

func parseTimeOrAgo(s string) (time.Time, error) {
	if strings.ContainsAny(s, "smhdw") && !strings.Contains(s, "T") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

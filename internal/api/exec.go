package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/cmdgate/cmdgate/internal/events"
	"github.com/cmdgate/cmdgate/pkg/types"
)

func (a *App) execCommand(w http.ResponseWriter, r *http.Request) {
	var req types.CommandRequest
	if ok := decodeJSON(w, r, &req, "invalid json"); !ok {
		return
	}

	line := req.CommandLine()
	shell := types.NormalizeShell(req.Shell)
	cmdID := "cmd-" + uuid.NewString()

	verdict := a.engine.Evaluate(line, req.Shell)
	if !verdict.Allowed {
		a.record(r.Context(), types.Event{
			Type:      events.EventCommandDenied,
			CommandID: cmdID,
			Decision:  verdict.Action,
			Pattern:   verdict.MatchedPattern,
			Shell:     shell,
			Command:   line,
			Fields:    map[string]any{"reason": verdict.Reason},
		})
		writeJSON(w, http.StatusForbidden, verdict)
		return
	}

	a.record(r.Context(), types.Event{
		Type:      events.EventCommandStart,
		CommandID: cmdID,
		Decision:  verdict.Action,
		Pattern:   verdict.MatchedPattern,
		Shell:     shell,
		Command:   line,
	})

	if req.TimeoutMs <= 0 {
		req.TimeoutMs = a.defaultTimeoutMs
	}

	res, err := a.exec.Run(r.Context(), req)
	if err != nil {
		// The caller canceled; the tree is already gone. Record the end
		// outside the request context so it still lands in the store.
		a.record(context.Background(), types.Event{
			Type:      events.EventCommandEnd,
			CommandID: cmdID,
			Shell:     shell,
			Command:   line,
			Fields:    map[string]any{"error": err.Error()},
		})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	a.metrics.IncCommand(res.TimedOut)

	evType := events.EventCommandEnd
	if res.TimedOut {
		evType = events.EventCommandTimeout
	}
	a.record(context.Background(), types.Event{
		Type:      evType,
		CommandID: cmdID,
		Shell:     shell,
		Command:   line,
		Fields: map[string]any{
			"exit_code":   res.ExitCode,
			"duration_ms": res.DurationMs,
			"timed_out":   res.TimedOut,
		},
	})

	writeJSON(w, http.StatusOK, types.ExecResponse{CommandID: cmdID, Evaluation: verdict, Result: res})
}

package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cmdgate/cmdgate/pkg/types"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	eventsTotal atomic.Uint64
	byType      sync.Map // string -> *atomic.Uint64

	decisionsAllow  atomic.Uint64
	decisionsDeny   atomic.Uint64
	decisionsPrompt atomic.Uint64

	commandsTotal   atomic.Uint64
	commandTimeouts atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.Add(1)
	if eventType == "" {
		eventType = "unknown"
	}
	ptr, _ := c.byType.LoadOrStore(eventType, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

func (c *Collector) IncDecision(action types.Action) {
	if c == nil {
		return
	}
	switch action {
	case types.ActionAllow:
		c.decisionsAllow.Add(1)
	case types.ActionPrompt:
		c.decisionsPrompt.Add(1)
	default:
		c.decisionsDeny.Add(1)
	}
}

func (c *Collector) IncCommand(timedOut bool) {
	if c == nil {
		return
	}
	c.commandsTotal.Add(1)
	if timedOut {
		c.commandTimeouts.Add(1)
	}
}

func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP cmdgate_up Whether the cmdgate server is running.\n")
		fmt.Fprint(w, "# TYPE cmdgate_up gauge\n")
		fmt.Fprint(w, "cmdgate_up 1\n")

		fmt.Fprint(w, "# HELP cmdgate_events_total Total number of audit events appended.\n")
		fmt.Fprint(w, "# TYPE cmdgate_events_total counter\n")
		fmt.Fprintf(w, "cmdgate_events_total %d\n", c.eventsTotal.Load())

		fmt.Fprint(w, "# HELP cmdgate_decisions_total Policy decisions by action.\n")
		fmt.Fprint(w, "# TYPE cmdgate_decisions_total counter\n")
		fmt.Fprintf(w, "cmdgate_decisions_total{action=\"allow\"} %d\n", c.decisionsAllow.Load())
		fmt.Fprintf(w, "cmdgate_decisions_total{action=\"deny\"} %d\n", c.decisionsDeny.Load())
		fmt.Fprintf(w, "cmdgate_decisions_total{action=\"prompt\"} %d\n", c.decisionsPrompt.Load())

		fmt.Fprint(w, "# HELP cmdgate_commands_total Commands executed.\n")
		fmt.Fprint(w, "# TYPE cmdgate_commands_total counter\n")
		fmt.Fprintf(w, "cmdgate_commands_total %d\n", c.commandsTotal.Load())

		fmt.Fprint(w, "# HELP cmdgate_command_timeouts_total Commands killed by the request timeout.\n")
		fmt.Fprint(w, "# TYPE cmdgate_command_timeouts_total counter\n")
		fmt.Fprintf(w, "cmdgate_command_timeouts_total %d\n", c.commandTimeouts.Load())

		eventTypes := snapshotKeys(&c.byType)
		if len(eventTypes) > 0 {
			fmt.Fprint(w, "# HELP cmdgate_events_by_type_total Total audit events appended by type.\n")
			fmt.Fprint(w, "# TYPE cmdgate_events_by_type_total counter\n")
			for _, t := range eventTypes {
				ptr, _ := c.byType.Load(t)
				n := uint64(0)
				if ptr != nil {
					n = ptr.(*atomic.Uint64).Load()
				}
				fmt.Fprintf(w, "cmdgate_events_by_type_total{type=\"%s\"} %d\n", escapeLabelValue(t), n)
			}
		}
	})
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}

package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/client"
)

// healthTimeout bounds every component check and the status snapshot.
const healthTimeout = 3 * time.Second

// HealthResponse is the body of /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components []ComponentHealth `json:"components"`
}

// ComponentHealth is the result of one component check.
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is the body of /api/v1/status.
type StatusResponse struct {
	ClientID         string      `json:"client_id"`
	State            string      `json:"state"`
	Online           bool        `json:"online"`
	BackoffLevel     int         `json:"backoff_level"`
	ReconnectPending bool        `json:"reconnect_pending"`
	Queues           QueueStatus `json:"queues"`
	Subscriptions    int         `json:"subscriptions"`
	LastMessageID    uint16      `json:"last_message_id"`
}

// QueueStatus contains the request queue sizes.
type QueueStatus struct {
	QoS0    int `json:"qos0"`
	Send    int `json:"send"`
	Receive int `json:"receive"`
	Held    int `json:"held"`
}

// handleLiveness answers as long as the process serves HTTP.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth checks the client and every registered component.
// Any failure turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Version: s.version}
	resp.Components = append(resp.Components, checkComponent(ctx, "mqtt", s.client))

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		resp.Components = append(resp.Components, checkComponent(ctx, name, s.checks[name]))
	}

	code := http.StatusOK
	for _, c := range resp.Components {
		if !c.Healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, resp)
}

func checkComponent(ctx context.Context, name string, hc HealthChecker) ComponentHealth {
	if err := hc.HealthCheck(ctx); err != nil {
		return ComponentHealth{Name: name, Error: err.Error()}
	}
	return ComponentHealth{Name: name, Healthy: true}
}

// handleStatus returns a snapshot of the client taken on its scheduler.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	st, err := s.client.Stats(ctx)
	if err != nil {
		if errors.Is(err, client.ErrNotRunning) {
			s.writeError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "client is not running")
			return
		}
		s.logger.Error("reading client stats", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "failed to read client status")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		ClientID:         st.ClientID,
		State:            st.State.String(),
		Online:           st.Online,
		BackoffLevel:     st.BackoffLevel,
		ReconnectPending: st.ReconnectPending,
		Queues: QueueStatus{
			QoS0:    st.QoS0,
			Send:    st.Send,
			Receive: st.Receive,
			Held:    st.Held,
		},
		Subscriptions: st.Subscriptions,
		LastMessageID: st.LastMessageID,
	})
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/schemaflow/platform/internal/app/services/flows"
	"github.com/schemaflow/platform/internal/engine/flow"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// sessionSocket streams step events for one flow session. The first frame
// is a snapshot of the session's current state, then one frame per
// transition until the client disconnects or the session reaches a terminal
// status.
func (h *handler) sessionSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.Flows.Get(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its error response.
		h.log.WithError(err).Debugf("websocket upgrade for session %s", sess.ID)
		return
	}
	defer conn.Close()

	events, cancel := h.app.Flows.Subscribe(sess.ID)
	defer cancel()

	snapshot := flows.StepEvent{
		SessionID: sess.ID,
		FlowKey:   sess.FlowKey,
		Current:   sess.Current,
		Status:    sess.Status,
		Steps:     sess.History,
		At:        time.Now().UTC(),
	}
	if err := h.writeEvent(conn, snapshot); err != nil {
		return
	}

	// Drain the client side so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, evt); err != nil {
				return
			}
			if evt.Status != flow.StatusActive {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session "+evt.Status), deadline)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *handler) writeEvent(conn *websocket.Conn, evt flows.StepEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(evt); err != nil {
		h.log.WithError(err).Debugf("websocket write for session %s", evt.SessionID)
		return err
	}
	return nil
}

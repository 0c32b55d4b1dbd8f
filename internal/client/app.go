package client

import (
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/backoff"
	"github.com/nerrad567/gray-logic-edge/internal/layer"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/logic"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/topic"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// app is the top layer of the pipeline.
type app struct {
	layer.Passthrough
	c *Client
}

func (a *app) Connect(l *layer.Link, _ any, in status.Code) status.Code {
	c := a.c
	if in != status.OK {
		return c.failed(in)
	}

	c.backoff.OnOutcome(status.OK)
	c.setState(StateChange{State: session.Opened, Status: status.OK})
	c.logger.Info("client: connected", "client_id", c.conn.ClientID)

	code := l.PostConnectOnPrev(nil, status.OK)
	if c.topics != nil {
		l.PushOnPrev(&logic.PublishRequest{
			Topic:   c.topics.Status(c.conn.ClientID),
			Payload: []byte(topic.OnlinePayload(c.conn.ClientID, time.Now())),
			QoS:     1,
			Retain:  true,
		}, status.OK)
	}
	return code
}

func (a *app) CloseExternally(_ *layer.Link, _ any, in status.Code) status.Code {
	return a.c.failed(in)
}

// Push receives nothing the application needs: confirmations end in the
// logic layer.
func (a *app) Push(_ *layer.Link, _ any, _ status.Code) status.Code {
	return status.OK
}

func (a *app) Pull(_ *layer.Link, _ any, _ status.Code) status.Code {
	return status.OK
}

// open starts a connection attempt.
func (c *Client) open() error {
	if c.finalized || c.closing.Load() {
		return nil
	}
	if c.started {
		c.logger.Info("client: reconnecting", "client_id", c.conn.ClientID, "level", c.backoff.Level())
	} else {
		c.logger.Info("client: connecting", "client_id", c.conn.ClientID)
	}
	c.started = true

	c.setState(StateChange{State: session.Opening, Status: status.OK, BackoffLevel: c.backoff.Level()})
	c.top().InitOnPrev(nil, status.OK)
	return nil
}

// failed handles a failed connect or a lost connection.
func (c *Client) failed(in status.Code) status.Code {
	state := session.Closed
	if c.conn.State == session.OpenFailed {
		state = session.OpenFailed
	}

	if c.closing.Load() {
		c.finalize(state, in)
		return status.OK
	}

	class := c.backoff.OnOutcome(in)
	if class == backoff.Terminal || in == status.BackoffTerminal {
		c.logger.Error("client: terminal failure, not reconnecting",
			"client_id", c.conn.ClientID, "status", in.String())
		c.finalize(state, in)
		return status.OK
	}

	if err := c.backoff.ScheduleReconnect(c.open); err != nil {
		c.logger.Error("client: scheduling reconnect failed", "error", err)
		c.finalize(state, in)
		return status.OK
	}

	c.logger.Warn("client: connection failed",
		"client_id", c.conn.ClientID,
		"state", state.String(),
		"status", in.String(),
		"level", c.backoff.Level(),
	)
	c.setState(StateChange{State: state, Status: in, BackoffLevel: c.backoff.Level(), Reconnecting: true})
	return status.OK
}

// shutdown runs on the scheduler after Shutdown.
func (c *Client) shutdown() error {
	if c.finalized {
		return nil
	}

	switch c.conn.State {
	case session.Opened:
		if c.topics == nil {
			c.disconnect()
			return nil
		}
		// Offline status first; QoS 0 keeps it ahead of DISCONNECT.
		c.top().PushOnPrev(&logic.PublishRequest{
			Topic:   c.topics.Status(c.conn.ClientID),
			Payload: []byte(topic.OfflinePayload(c.conn.ClientID, "graceful_shutdown", time.Now())),
			Retain:  true,
			Done:    func(status.Code) { c.disconnect() },
		}, status.OK)
	case session.Opening, session.Closing:
		c.disconnect()
	default:
		c.backoff.CancelPending()
		c.finalize(session.Closed, status.OK)
	}
	return nil
}

func (c *Client) disconnect() {
	if c.finalized {
		return
	}
	c.top().PushOnPrev(&logic.ShutdownRequest{}, status.OK)
}

// finalize stops the client for good and stops the scheduler once the
// pending completions have run.
func (c *Client) finalize(state session.State, code status.Code) {
	if c.finalized {
		return
	}
	c.finalized = true
	c.closing.Store(true)

	c.backoff.Release()
	c.logic.AbortAll()
	c.setState(StateChange{State: state, Status: code})
	close(c.done)
	c.logger.Info("client: stopped", "client_id", c.conn.ClientID, "status", code.String())

	if err := c.sched.RunNow(func() error {
		c.sched.Stop()
		return nil
	}); err != nil {
		c.sched.Stop()
	}
}

func (c *Client) setState(ev StateChange) {
	c.mu.Lock()
	c.state = ev.State
	c.mu.Unlock()

	for _, h := range c.handlers {
		h(ev)
	}
}

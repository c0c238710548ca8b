package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noHeartbeat(cfg *Config) {
	cfg.HeartbeatInterval = 0
}

func TestConnectSubscribesAndResyncs(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.SetSubject("agent-1", json.RawMessage(`{"view":"chat"}`))

	conn := h.connect(t)

	require.Eventually(t, func() bool { return len(conn.frames()) == 1 }, time.Second, time.Millisecond)
	frame := conn.frames()[0]
	assert.Equal(t, FrameSubscribe, frame.Type)
	assert.Equal(t, "agent-1", frame.AgentID)
	assert.JSONEq(t, `{"view":"chat"}`, string(frame.Context))

	snapshot := h.manager.Snapshot()
	require.NotNil(t, snapshot.LastConnectedAt)
	assert.Equal(t, baseTime, *snapshot.LastConnectedAt)
	assert.Zero(t, snapshot.Attempt)
	assert.Empty(t, snapshot.LastError)

	require.Eventually(t, func() bool { return len(h.rec.resyncReasons()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "connected", h.rec.resyncReasons()[0])
	assert.Equal(t, "Bearer secret", h.dialer.headers[0].Get("Authorization"))
}

func TestStatusNotificationsPublished(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	require.Eventually(t, func() bool { return len(h.rec.statusHistory()) >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, h.rec.statusHistory()[:2])
}

func TestSubjectSwitchUnsubscribesBeforeSubscribing(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.SetSubject("agent-1", nil)
	conn := h.connect(t)
	require.Eventually(t, func() bool { return len(conn.frames()) == 1 }, time.Second, time.Millisecond)

	h.manager.SetSubject("agent-1", nil)
	h.manager.SetSubject("agent-2", nil)

	require.Eventually(t, func() bool { return len(conn.frames()) == 3 }, time.Second, time.Millisecond)
	frames := conn.frames()
	assert.Equal(t, FrameSubscribe, frames[0].Type)
	assert.Equal(t, FrameUnsubscribe, frames[1].Type)
	assert.Equal(t, "agent-1", frames[1].AgentID)
	assert.Equal(t, FrameSubscribe, frames[2].Type)
	assert.Equal(t, "agent-2", frames[2].AgentID)
	assert.Equal(t, "agent-2", h.manager.Snapshot().Subject)
}

func TestSubjectSetWhileDisconnectedIsSentOnOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.SetSubject("agent-1", nil)
	h.manager.SetSubject("agent-2", nil)

	conn := h.connect(t)

	require.Eventually(t, func() bool { return len(conn.frames()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "agent-2", conn.frames()[0].AgentID)
}

func TestPingAnsweredWithPong(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	conn.push(`{"type":"ping"}`)

	require.Eventually(t, func() bool { return conn.hasWritten(FramePong) }, time.Second, time.Millisecond)
}

func TestMalformedFramesDropped(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	conn.push(`not json`)
	conn.push(`{"payload":{}}`)
	conn.push(`{"type":"timeline.event","agent_id":"agent-1","payload":{"kind":"message"}}`)

	require.Eventually(t, func() bool { return len(h.rec.receivedFrames()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, FrameTimelineEvent, h.rec.receivedFrames()[0].Type)
	assert.Equal(t, StatusConnected, h.manager.Snapshot().Status)
}

func TestDomainFramesForwarded(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	conn.push(`{"type":"processing","agent_id":"agent-1","payload":true}`)
	conn.push(`{"type":"stream.event","agent_id":"agent-1","payload":{"phase":"start","stream_id":"s1"}}`)
	conn.push(`{"type":"presence","agent_id":"agent-1"}`)

	require.Eventually(t, func() bool { return len(h.rec.receivedFrames()) == 2 }, time.Second, time.Millisecond)
	frames := h.rec.receivedFrames()
	assert.Equal(t, FrameProcessing, frames[0].Type)
	assert.Equal(t, FrameStreamEvent, frames[1].Type)
}

func TestNormalCloseReconnectsWithoutError(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	conn.fail(&CloseError{Code: CloseNormal})

	h.waitStatus(t, StatusReconnecting)
	assert.Empty(t, h.manager.Snapshot().LastError)
	assert.Equal(t, 1, h.manager.Snapshot().Attempt)

	h.clock.Advance(time.Second)

	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, time.Second, time.Millisecond)
	h.waitStatus(t, StatusConnected)
	assert.Zero(t, h.manager.Snapshot().Attempt)
	require.Eventually(t, func() bool { return len(h.rec.resyncReasons()) == 2 }, time.Second, time.Millisecond)
}

func TestTransientFailureRecordsError(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	conn.fail(errReset)

	h.waitStatus(t, StatusReconnecting)
	assert.Contains(t, h.manager.Snapshot().LastError, "connection reset")

	h.clock.Advance(time.Second)
	h.waitStatus(t, StatusConnected)
	assert.Empty(t, h.manager.Snapshot().LastError)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.BackoffMax = 4 * time.Second
	})
	h.dialer.always = errReset

	h.manager.Connect()
	require.Eventually(t, func() bool { return h.manager.Snapshot().Attempt == 1 }, time.Second, time.Millisecond)

	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		h.clock.Advance(delay - time.Millisecond)
		assert.Equal(t, i+1, h.dialer.dialCount(), "redialed before %s elapsed", delay)

		h.clock.Advance(time.Millisecond)
		want := i + 2
		require.Eventually(t, func() bool {
			return h.dialer.dialCount() == want && h.manager.Snapshot().Attempt == want
		}, time.Second, time.Millisecond)
		assert.Equal(t, StatusReconnecting, h.manager.Snapshot().Status)
	}
}

func TestAuthCloseStopsAndRedirectsOnce(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	conn.fail(&CloseError{Code: CloseAuthRequired, Reason: "session expired"})

	h.waitStatus(t, StatusError)
	assert.Contains(t, h.manager.Snapshot().LastError, "authentication")
	require.Eventually(t, func() bool { return h.rec.redirectCount() == 1 }, time.Second, time.Millisecond)

	h.clock.Advance(time.Minute)
	h.manager.Resume("visible")
	h.manager.SetOnline(false)
	h.manager.SetOnline(true)

	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, StatusError, h.manager.Snapshot().Status)
	assert.Equal(t, 1, h.rec.redirectCount())
	assert.Zero(t, h.manager.pendingTimers())
}

func TestConnectAfterAuthErrorRestarts(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)
	conn.fail(&CloseError{Code: CloseAuthRequired})
	h.waitStatus(t, StatusError)

	h.manager.Connect()

	h.waitStatus(t, StatusConnected)
	assert.Empty(t, h.manager.Snapshot().LastError)
	assert.Equal(t, 2, h.dialer.connCount())
}

func TestHandshakeUnauthorizedIsAuthFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.failNext(&HandshakeError{StatusCode: 401})

	h.manager.Connect()

	h.waitStatus(t, StatusError)
	require.Eventually(t, func() bool { return h.rec.redirectCount() == 1 }, time.Second, time.Millisecond)
	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestAuthorizationCloseIsTerminalWithoutRedirect(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	conn.fail(&CloseError{Code: 4403, Reason: "forbidden agent"})

	h.waitStatus(t, StatusError)
	assert.Contains(t, h.manager.Snapshot().LastError, "4403")
	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Zero(t, h.rec.redirectCount())
}

func TestSubscriptionErrorResyncsAndStaysConnected(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.SetSubject("agent-1", nil)
	conn := h.connect(t)
	require.Eventually(t, func() bool { return len(h.rec.resyncReasons()) == 1 }, time.Second, time.Millisecond)

	conn.push(`{"type":"subscription.error","agent_id":"agent-1","message":"agent is archived"}`)

	require.Eventually(t, func() bool { return h.manager.Snapshot().LastError == "agent is archived" }, time.Second, time.Millisecond)
	assert.Equal(t, StatusConnected, h.manager.Snapshot().Status)
	require.Eventually(t, func() bool { return len(h.rec.resyncReasons()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "subscription error", h.rec.resyncReasons()[1])
}

func TestSubscriptionErrorForPreviousSubjectIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.SetSubject("agent-2", nil)
	conn := h.connect(t)

	conn.push(`{"type":"subscription.error","agent_id":"agent-1","message":"unauthorized"}`)
	conn.push(`{"type":"ping"}`)

	require.Eventually(t, func() bool { return conn.hasWritten(FramePong) }, time.Second, time.Millisecond)
	assert.Equal(t, StatusConnected, h.manager.Snapshot().Status)
	assert.Empty(t, h.manager.Snapshot().LastError)
}

func TestAuthSubscriptionErrorClosesAndRedirects(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.SetSubject("agent-1", nil)
	conn := h.connect(t)

	conn.push(`{"type":"subscription.error","agent_id":"agent-1","message":"token expired"}`)

	h.waitStatus(t, StatusError)
	require.Eventually(t, func() bool {
		_, _, closed := conn.closedWith()
		return closed
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.rec.redirectCount() == 1 }, time.Second, time.Millisecond)
}

func TestHeartbeatTimeoutReconnects(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	h.clock.Advance(25 * time.Second)
	require.Eventually(t, func() bool { return conn.hasWritten(FramePing) }, time.Second, time.Millisecond)
	assert.True(t, h.timerPending(timerPong))

	h.clock.Advance(10 * time.Second)

	assert.Equal(t, StatusReconnecting, h.manager.Snapshot().Status)
	assert.Equal(t, "heartbeat timeout", h.manager.Snapshot().LastError)
	require.Eventually(t, func() bool {
		code, _, closed := conn.closedWith()
		return closed && code == CloseGoingAway
	}, time.Second, time.Millisecond)

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, time.Second, time.Millisecond)
	h.waitStatus(t, StatusConnected)
}

func TestInboundTrafficCountsAsLiveness(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	h.clock.Advance(25 * time.Second)
	require.Eventually(t, func() bool { return conn.hasWritten(FramePing) }, time.Second, time.Millisecond)

	conn.push(`{"type":"timeline.event","agent_id":"agent-1","payload":{}}`)
	require.Eventually(t, func() bool { return !h.timerPending(timerPong) }, time.Second, time.Millisecond)

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, StatusConnected, h.manager.Snapshot().Status)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestIdleTimeoutClosesSocket(t *testing.T) {
	h := newHarness(t, noHeartbeat)
	conn := h.connect(t)

	h.manager.Suspend("hidden")
	h.clock.Advance(5*time.Minute - time.Second)
	assert.Equal(t, StatusConnected, h.manager.Snapshot().Status)

	h.clock.Advance(time.Second)

	assert.Equal(t, StatusIdle, h.manager.Snapshot().Status)
	require.Eventually(t, func() bool {
		code, reason, closed := conn.closedWith()
		return closed && code == CloseNormal && reason == "idle"
	}, time.Second, time.Millisecond)

	h.manager.Resume("visible")
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, time.Second, time.Millisecond)
	h.waitStatus(t, StatusConnected)
}

func TestResumeBeforeIdleKeepsSocket(t *testing.T) {
	h := newHarness(t, noHeartbeat)
	h.connect(t)
	require.Eventually(t, func() bool { return len(h.rec.resyncReasons()) == 1 }, time.Second, time.Millisecond)

	h.manager.Suspend("hidden")
	h.clock.Advance(time.Minute)
	h.manager.Resume("visible")

	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, StatusConnected, h.manager.Snapshot().Status)
	assert.Equal(t, 1, h.dialer.dialCount())
	require.Eventually(t, func() bool { return len(h.rec.resyncReasons()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "resume: visible", h.rec.resyncReasons()[1])
}

func TestOfflineClosesAndOnlineReconnects(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	h.manager.SetOnline(false)

	assert.Equal(t, StatusOffline, h.manager.Snapshot().Status)
	require.Eventually(t, func() bool {
		code, _, closed := conn.closedWith()
		return closed && code == CloseGoingAway
	}, time.Second, time.Millisecond)

	h.manager.Resume("visible")
	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())

	h.manager.SetOnline(true)
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, time.Second, time.Millisecond)
	h.waitStatus(t, StatusConnected)
}

func TestSuspendWhileOfflineArmsIdleOnReconnect(t *testing.T) {
	h := newHarness(t, noHeartbeat)
	h.connect(t)

	h.manager.SetOnline(false)
	h.manager.Suspend("hidden")
	assert.False(t, h.timerPending(timerIdle))

	h.manager.SetOnline(true)
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, time.Second, time.Millisecond)
	h.waitStatus(t, StatusConnected)
	assert.True(t, h.timerPending(timerIdle))

	h.clock.Advance(time.Hour)
	assert.Equal(t, StatusIdle, h.manager.Snapshot().Status)
}

func TestOfflineSuspendDoesNotArmIdle(t *testing.T) {
	h := newHarness(t, noHeartbeat)
	h.connect(t)

	h.manager.SetOnline(false)
	h.manager.Suspend(SuspendOffline)
	h.manager.SetOnline(true)
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, time.Second, time.Millisecond)
	h.waitStatus(t, StatusConnected)

	assert.False(t, h.timerPending(timerIdle))
	h.clock.Advance(time.Hour)
	assert.Equal(t, StatusConnected, h.manager.Snapshot().Status)
}

func TestConnectWhileOfflineWaits(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.SetOnline(false)

	h.manager.Connect()

	assert.Equal(t, StatusOffline, h.manager.Snapshot().Status)
	assert.Zero(t, h.dialer.dialCount())
}

func TestResumeBeforeConnectIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.Resume("focus")

	assert.Equal(t, StatusIdle, h.manager.Snapshot().Status)
	assert.Zero(t, h.dialer.dialCount())
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t)

	h.manager.Close()

	assert.Equal(t, StatusIdle, h.manager.Snapshot().Status)
	assert.Zero(t, h.manager.pendingTimers())
	require.Eventually(t, func() bool {
		code, reason, closed := conn.closedWith()
		return closed && code == CloseNormal && reason == "client closed"
	}, time.Second, time.Millisecond)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("graph-1", "session-abc")
	assert.Equal(t, []string{"session-abc"}, r.SessionsFor("graph-1"))
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()
	assert.Empty(t, r.SessionsFor("unknown"))
}

func TestSessionRegistry_IgnoresEmptyIDs(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("", "session-abc")
	r.Register("graph-1", "")
	assert.Empty(t, r.SessionsFor(""))
	assert.Empty(t, r.SessionsFor("graph-1"))
}

func TestSessionRegistry_MultipleWatchers(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("graph-1", "session-b")
	r.Register("graph-1", "session-a")
	r.Register("graph-1", "session-a")

	assert.Equal(t, []string{"session-a", "session-b"}, r.SessionsFor("graph-1"))
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("graph-1", "session-abc")
	r.Register("graph-2", "session-abc")
	r.Register("graph-2", "session-xyz")

	r.Remove("session-abc")

	assert.Empty(t, r.SessionsFor("graph-1"), "graph-1 should have no watchers")
	assert.Equal(t, []string{"session-xyz"}, r.SessionsFor("graph-2"))
}

func TestSessionRegistry_Forget(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("graph-1", "session-1")
	r.Register("graph-2", "session-1")
	r.Forget("graph-1")

	assert.Empty(t, r.SessionsFor("graph-1"))
	assert.Equal(t, []string{"session-1"}, r.SessionsFor("graph-2"))
}

// --- Notifier ---

type sentNotification struct {
	sessionID string
	method    string
	params    map[string]any
}

type mockSender struct {
	sent []sentNotification
	errs map[string]error
}

func (m *mockSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	if err := m.errs[sessionID]; err != nil {
		return err
	}
	m.sent = append(m.sent, sentNotification{sessionID: sessionID, method: method, params: params})
	return nil
}

func TestMCPNotifier_SendsToWatchers(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("graph-1", "s1")
	sessions.Register("graph-1", "s2")
	sessions.Register("graph-2", "s3")
	sender := &mockSender{}
	n := &MCPNotifier{sender: sender, sessions: sessions}

	require.NoError(t, n.Notify(context.Background(), "graph-1", map[string]any{"data": "x"}))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "s1", sender.sent[0].sessionID)
	assert.Equal(t, "s2", sender.sent[1].sessionID)
	assert.Equal(t, "notifications/message", sender.sent[0].method)
	assert.Equal(t, "x", sender.sent[0].params["data"])
}

func TestMCPNotifier_NoWatchers(t *testing.T) {
	sender := &mockSender{}
	n := &MCPNotifier{sender: sender, sessions: NewSessionRegistry()}

	require.NoError(t, n.Notify(context.Background(), "graph-1", nil))
	assert.Empty(t, sender.sent)
}

func TestMCPNotifier_DropsExpiredSession(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("graph-1", "gone")
	sessions.Register("graph-1", "live")
	sender := &mockSender{errs: map[string]error{"gone": server.ErrSessionNotFound}}
	n := &MCPNotifier{sender: sender, sessions: sessions}

	require.NoError(t, n.Notify(context.Background(), "graph-1", map[string]any{}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "live", sender.sent[0].sessionID)
	assert.Equal(t, []string{"live"}, sessions.SessionsFor("graph-1"))
}

func TestMCPNotifier_ReportsSendErrors(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("graph-1", "broken")
	sender := &mockSender{errs: map[string]error{"broken": errors.New("pipe closed")}}
	n := &MCPNotifier{sender: sender, sessions: sessions}

	err := n.Notify(context.Background(), "graph-1", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe closed")
	assert.Equal(t, []string{"broken"}, sessions.SessionsFor("graph-1"))
}

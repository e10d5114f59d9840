package httpapi

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
)

func TestStreamDeliversProgress(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/goals", "alice", createGoalPayload("Streamed"))
	var g struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &g)

	resp = ts.do(t, http.MethodPost, "/deposits", "alice", map[string]interface{}{
		"goal_id": g.ID,
		"amount":  int64(100),
	})
	var att deposit.Attempt
	decodeBody(t, resp, &att)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/deposits/" + att.ID + "/events"
	header := http.Header{"Authorization": []string{"Bearer " + ts.token(t, "alice")}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var last deposit.Attempt
	deadline := time.Now().Add(5 * time.Second)
	for !last.State.Terminal() {
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&last); err != nil {
			t.Fatalf("read snapshot: %v (last state %q)", err, last.State)
		}
		if last.ID != att.ID {
			t.Fatalf("snapshot for wrong attempt: %q", last.ID)
		}
	}
	if last.State != deposit.StateSettled {
		t.Fatalf("expected settled, got %q (%s)", last.State, last.FailureDetail)
	}
}

func TestStreamRejectsForeignAttempt(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/goals", "alice", createGoalPayload("Private"))
	var g struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &g)

	resp = ts.do(t, http.MethodPost, "/deposits", "alice", map[string]interface{}{
		"goal_id": g.ID,
		"amount":  int64(50),
	})
	var att deposit.Attempt
	decodeBody(t, resp, &att)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/deposits/" + att.ID + "/events"
	header := http.Header{"Authorization": []string{"Bearer " + ts.token(t, "bob")}}
	_, resp2, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("expected handshake failure for foreign attempt")
	}
	if resp2 == nil || resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %+v", resp2)
	}
}

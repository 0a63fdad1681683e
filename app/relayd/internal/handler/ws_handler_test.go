package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soportek/remotectl/app/relayd/internal/model"
	"github.com/soportek/remotectl/app/relayd/internal/service"
	"github.com/soportek/remotectl/pkg/wire"
)

// dialWS 以指定身份绑定到会话的信令通道
func (s *testStack) dialWS(t *testing.T, userID, sessionID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") +
		"/api/remote/ws?session_id=" + sessionID + "&token=" + userID

	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelope 带超时读取一条信封
func readEnvelope(t *testing.T, conn *websocket.Conn) *wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := wire.ParseEnvelope(data)
	require.NoError(t, err)
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, typ wire.MessageType, sessionID string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(typ, sessionID, payload)
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// acceptedSession 走完 Request/Accept，返回可绑定的会话
func acceptedSession(t *testing.T, stack *testStack) *model.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := stack.svc.Request(ctx, "t1", service.Caller{UserID: "op-1", Role: model.RoleOperador})
	require.NoError(t, err)
	_, err = stack.svc.Accept(ctx, sess.ID, service.Caller{UserID: "cl-1", Role: model.RoleCliente})
	require.NoError(t, err)
	return sess
}

func TestWS_SignalingRoundTrip(t *testing.T) {
	stack := newTestStack(t)
	sess := acceptedSession(t, stack)

	opConn := stack.dialWS(t, "op-1", sess.ID)
	clConn := stack.dialWS(t, "cl-1", sess.ID)

	// 双端绑定后会话自动激活
	require.Eventually(t, func() bool {
		cur, err := stack.svc.Get(context.Background(), sess.ID)
		return err == nil && cur.State == model.StateActive
	}, 2*time.Second, 20*time.Millisecond)

	// offer/answer 经中继原样转发
	writeEnvelope(t, opConn, wire.TypeOffer, sess.ID, map[string]string{"sdp": "offer-sdp"})
	env := readEnvelope(t, clConn)
	assert.Equal(t, wire.TypeOffer, env.Type)

	writeEnvelope(t, clConn, wire.TypeAnswer, sess.ID, map[string]string{"sdp": "answer-sdp"})
	env = readEnvelope(t, opConn)
	assert.Equal(t, wire.TypeAnswer, env.Type)

	// 输入命令从操作员流向客户
	writeEnvelope(t, opConn, wire.TypeInput, sess.ID, wire.InputCommand{
		Pointer: &wire.PointerEvent{X: 10, Y: 20, Button: wire.ButtonLeft, Action: wire.PointerClick},
	})
	env = readEnvelope(t, clConn)
	require.Equal(t, wire.TypeInput, env.Type)
	var cmd wire.InputCommand
	require.NoError(t, env.Decode(&cmd))
	assert.Equal(t, 10, cmd.Pointer.X)
}

func TestWS_FrameFlowsToOperator(t *testing.T) {
	stack := newTestStack(t)
	sess := acceptedSession(t, stack)

	opConn := stack.dialWS(t, "op-1", sess.ID)
	clConn := stack.dialWS(t, "cl-1", sess.ID)

	frame := wire.Frame{ImageData: "ZGF0YQ==", Width: 640, Height: 480, CapturedAt: time.Now().UTC()}
	writeEnvelope(t, clConn, wire.TypeFrame, sess.ID, frame)

	env := readEnvelope(t, opConn)
	require.Equal(t, wire.TypeFrame, env.Type)
	var got wire.Frame
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, 640, got.Width)
}

func TestWS_EndSessionFinishesAndNotifies(t *testing.T) {
	stack := newTestStack(t)
	sess := acceptedSession(t, stack)

	opConn := stack.dialWS(t, "op-1", sess.ID)
	clConn := stack.dialWS(t, "cl-1", sess.ID)

	writeEnvelope(t, opConn, wire.TypeEndSession, sess.ID, nil)

	// 对端收到 end-session
	env := readEnvelope(t, clConn)
	assert.Equal(t, wire.TypeEndSession, env.Type)

	// 会话进入终态，房间拆除
	require.Eventually(t, func() bool {
		cur, err := stack.svc.Get(context.Background(), sess.ID)
		return err == nil && cur.State == model.StateFinished && stack.relay.RoomCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWS_DisconnectFinishesSession(t *testing.T) {
	stack := newTestStack(t)
	sess := acceptedSession(t, stack)

	opConn := stack.dialWS(t, "op-1", sess.ID)
	clConn := stack.dialWS(t, "cl-1", sess.ID)
	_ = opConn

	// 客户直接断开，会话标记 disconnected
	clConn.Close()

	require.Eventually(t, func() bool {
		cur, err := stack.svc.Get(context.Background(), sess.ID)
		return err == nil && cur.State == model.StateFinished &&
			cur.EndReason == model.EndReasonDisconnected
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWS_RejectsNonParticipant(t *testing.T) {
	stack := newTestStack(t)
	sess := acceptedSession(t, stack)

	u := "ws" + strings.TrimPrefix(stack.srv.URL, "http") +
		"/api/remote/ws?session_id=" + sess.ID + "&token=other"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWS_RejectsFinishedSession(t *testing.T) {
	stack := newTestStack(t)
	sess := acceptedSession(t, stack)

	_, err := stack.svc.End(context.Background(), sess.ID, "op-1", "")
	require.NoError(t, err)

	u := "ws" + strings.TrimPrefix(stack.srv.URL, "http") +
		"/api/remote/ws?session_id=" + sess.ID + "&token=op-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWS_RequiresSessionID(t *testing.T) {
	stack := newTestStack(t)

	u := "ws" + strings.TrimPrefix(stack.srv.URL, "http") + "/api/remote/ws?token=op-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

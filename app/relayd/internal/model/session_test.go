package model

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateRequested, StateAccepted},
		{StateRequested, StateFinished},
		{StateAccepted, StateActive},
		{StateAccepted, StateFinished},
		{StateActive, StateFinished},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to State }{
		// 状态单调，不可回退
		{StateAccepted, StateRequested},
		{StateActive, StateAccepted},
		{StateActive, StateRequested},
		// 不可跳级
		{StateRequested, StateActive},
		// 终态吸收
		{StateFinished, StateRequested},
		{StateFinished, StateAccepted},
		{StateFinished, StateActive},
		{StateFinished, StateFinished},
		// 不可重入
		{StateRequested, StateRequested},
		{StateAccepted, StateAccepted},
		{StateActive, StateActive},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	if StateRequested.Terminal() || StateAccepted.Terminal() || StateActive.Terminal() {
		t.Error("only finalizada is terminal")
	}
	if !StateFinished.Terminal() {
		t.Error("finalizada must be terminal")
	}
}

func TestCanOperate(t *testing.T) {
	if !CanOperate(RoleOperador) || !CanOperate(RoleAdmin) {
		t.Error("operators and admins can request sessions")
	}
	if CanOperate(RoleCliente) {
		t.Error("clients cannot request sessions")
	}
	if CanOperate("") {
		t.Error("unknown role cannot request sessions")
	}
}

func TestSession_Participant(t *testing.T) {
	sess := &Session{OperatorID: "op-1", ClientID: "cl-1"}
	if !sess.Participant("op-1") || !sess.Participant("cl-1") {
		t.Error("both sides are participants")
	}
	if sess.Participant("other") {
		t.Error("third parties are not participants")
	}
}

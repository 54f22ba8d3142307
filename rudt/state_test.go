package rudt

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateNotConnected:  "NotConnected",
		StateConnecting:    "Connecting",
		StateConnected:     "Connected",
		StateDisconnecting: "Disconnecting",
		State(255):         "Unknown",
	}

	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestSendOptionReliable(t *testing.T) {
	reliable := []SendOption{SendOptionReliable, SendOptionHello, SendOptionPing}
	unreliable := []SendOption{SendOptionNone, SendOptionFragment, SendOptionDisconnect, SendOptionAcknowledgement}

	for _, opt := range reliable {
		if !opt.Reliable() {
			t.Fatalf("%v.Reliable() = false, want true", opt)
		}
	}

	for _, opt := range unreliable {
		if opt.Reliable() {
			t.Fatalf("%v.Reliable() = true, want false", opt)
		}
	}
}

func TestSendOptionDeliverable(t *testing.T) {
	if !SendOptionReliable.deliverable() {
		t.Fatalf("SendOptionReliable.deliverable() = false, want true")
	}
	if SendOptionPing.deliverable() || SendOptionHello.deliverable() {
		t.Fatalf("Ping/Hello must never be deliverable")
	}
}

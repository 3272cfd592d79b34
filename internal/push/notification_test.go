package push

import (
	"testing"
)

func TestParsePayloadFallsBackToPlainString(t *testing.T) {
	payload := ParsePayload([]byte("machine 7 is live"))
	if payload.Body != "machine 7 is live" {
		t.Fatalf("body = %q", payload.Body)
	}
	if payload.Type != "" {
		t.Fatalf("type = %q, want empty", payload.Type)
	}
}

func TestBuildNotificationEmptyPayloadUsesDefaults(t *testing.T) {
	n := BuildNotification(ParsePayload(nil))
	if n.Title != DefaultTitle {
		t.Fatalf("title = %q", n.Title)
	}
	if n.Body == "" {
		t.Fatal("body must never be empty")
	}
	if n.Icon != DefaultIcon || n.Badge != DefaultBadge {
		t.Fatalf("icon = %q, badge = %q", n.Icon, n.Badge)
	}
	if len(n.Vibrate) != 3 {
		t.Fatalf("vibrate = %v", n.Vibrate)
	}
	if len(n.Actions) != 0 {
		t.Fatalf("actions = %v, want none for untyped payloads", n.Actions)
	}
	if n.URL != "/" {
		t.Fatalf("url = %q, want application root", n.URL)
	}
}

func TestBuildNotificationWin(t *testing.T) {
	n := BuildNotification(ParsePayload([]byte(`{"type":"win"}`)))
	if len(n.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(n.Actions))
	}
	if n.Actions[0].ID != "claim" || n.Actions[1].ID != "share" {
		t.Fatalf("actions = %+v", n.Actions)
	}
	if !n.Renotify || n.Tag == "" {
		t.Fatalf("win notifications must be re-notifiable, got tag=%q renotify=%v", n.Tag, n.Renotify)
	}
}

func TestBuildNotificationFaucet(t *testing.T) {
	n := BuildNotification(ParsePayload([]byte(`{"type":"faucet"}`)))
	if len(n.Actions) != 1 || n.Actions[0].ID != "claim-faucet" {
		t.Fatalf("actions = %+v", n.Actions)
	}
	if n.Renotify {
		t.Fatal("faucet notifications are not re-notifiable")
	}
}

func TestResolveTarget(t *testing.T) {
	withURL := BuildNotification(Payload{Type: "win", URL: "/machines/7"})

	cases := []struct {
		name   string
		action string
		n      Notification
		want   string
	}{
		{"claim overrides payload url", "claim", withURL, PrizesAnchor},
		{"claim-faucet overrides payload url", "claim-faucet", withURL, PrizesAnchor},
		{"share goes to share anchor", "share", withURL, ShareAnchor},
		{"plain click uses payload url", "", withURL, "/machines/7"},
		{"plain click without url goes to root", "", BuildNotification(Payload{}), "/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveTarget(tc.action, tc.n); got != tc.want {
				t.Fatalf("ResolveTarget(%q) = %q, want %q", tc.action, got, tc.want)
			}
		})
	}
}

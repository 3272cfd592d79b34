// Package push receives inbound push payloads and turns them into
// displayable notifications and navigation targets.
package push

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Default display values applied when the payload leaves them out.
const (
	DefaultTitle = "claw.pizza"
	DefaultBody  = "Something happened at the claw machine!"
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/badge-72.png"
)

// Navigation anchors resolved from notification actions.
const (
	PrizesAnchor = "/#prizes"
	ShareAnchor  = "/#share"
)

// Payload is the structured push message. Unknown shapes degrade to a
// plain display string in Body.
type Payload struct {
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Action is one button on a presented notification.
type Action struct {
	ID    string `json:"action"`
	Title string `json:"title"`
}

// Notification is the closed display payload handed to the host for
// rendering.
type Notification struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Icon     string   `json:"icon"`
	Badge    string   `json:"badge"`
	Vibrate  []int    `json:"vibrate"`
	Tag      string   `json:"tag,omitempty"`
	Renotify bool     `json:"renotify,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
	URL      string   `json:"url"`
}

// ParsePayload decodes raw push data. Malformed JSON falls back to
// treating the bytes as a single display string.
func ParsePayload(raw []byte) Payload {
	if len(raw) == 0 {
		return Payload{}
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{Body: string(raw)}
	}
	return payload
}

// BuildNotification produces the display payload for a push message.
// Every field is populated even when the payload is empty.
func BuildNotification(payload Payload) Notification {
	n := Notification{
		Title:   payload.Title,
		Body:    payload.Body,
		Icon:    DefaultIcon,
		Badge:   DefaultBadge,
		Vibrate: []int{200, 100, 200},
		URL:     payload.URL,
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.URL == "" {
		n.URL = "/"
	}

	switch payload.Type {
	case "win":
		if n.Body == "" {
			n.Body = "You won a prize! Tap to claim it."
		}
		n.Tag = "win"
		n.Renotify = true
		n.Actions = []Action{
			{ID: "claim", Title: "Claim prize"},
			{ID: "share", Title: "Share"},
		}
	case "faucet":
		if n.Body == "" {
			n.Body = "Free tokens are waiting for you."
		}
		n.Actions = []Action{
			{ID: "claim-faucet", Title: "Claim tokens"},
		}
	default:
		if n.Body == "" {
			n.Body = DefaultBody
		}
	}
	return n
}

// ResolveTarget maps a pressed action to a navigation target. Claim
// actions always win over the payload's own URL.
func ResolveTarget(action string, n Notification) string {
	switch {
	case strings.HasPrefix(action, "claim"):
		return PrizesAnchor
	case action == "share":
		return ShareAnchor
	case n.URL != "":
		return n.URL
	default:
		return "/"
	}
}

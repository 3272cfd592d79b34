package queuestore

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/clawpizza/agent/errs"
)

// ClaimKind distinguishes the two claim flavours.
type ClaimKind string

const (
	// ClaimKindPrize claims a physical prize won on a machine.
	ClaimKindPrize ClaimKind = "prize"
	// ClaimKindFaucet claims periodic free play tokens.
	ClaimKindFaucet ClaimKind = "faucet"
)

// PlayEvent is the payload schema for the plays category.
type PlayEvent struct {
	MachineID string    `json:"machineId"`
	Result    string    `json:"result"`
	PrizeID   string    `json:"prizeId,omitempty"`
	PlayedAt  time.Time `json:"playedAt"`
}

// ClaimEvent is the payload schema for the claims category. Faucet claims
// carry a token amount; prize claims reference the prize won.
type ClaimEvent struct {
	Kind      ClaimKind       `json:"kind"`
	PrizeID   string          `json:"prizeId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	ClaimedAt time.Time       `json:"claimedAt"`
}

// ValidatePayload checks payload against the category's schema before it is
// accepted into the durable store, so replay never posts malformed bodies.
func ValidatePayload(category Category, payload json.RawMessage) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return errs.New("queuestore", errs.CodeInvalid, errs.WithMessage("payload required"))
	}
	switch category {
	case CategoryPlays:
		var event PlayEvent
		if err := strictUnmarshal(payload, &event); err != nil {
			return errs.New("queuestore", errs.CodeInvalid,
				errs.WithMessage("malformed play event"), errs.WithCause(err))
		}
		return event.validate()
	case CategoryClaims:
		var event ClaimEvent
		if err := strictUnmarshal(payload, &event); err != nil {
			return errs.New("queuestore", errs.CodeInvalid,
				errs.WithMessage("malformed claim event"), errs.WithCause(err))
		}
		return event.validate()
	default:
		return errs.New("queuestore", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown category %q", category)))
	}
}

func (e PlayEvent) validate() error {
	if strings.TrimSpace(e.MachineID) == "" {
		return errs.New("queuestore", errs.CodeInvalid, errs.WithMessage("play event: machineId required"))
	}
	if strings.TrimSpace(e.Result) == "" {
		return errs.New("queuestore", errs.CodeInvalid, errs.WithMessage("play event: result required"))
	}
	if e.PlayedAt.IsZero() {
		return errs.New("queuestore", errs.CodeInvalid, errs.WithMessage("play event: playedAt required"))
	}
	return nil
}

func (e ClaimEvent) validate() error {
	switch e.Kind {
	case ClaimKindPrize:
		if strings.TrimSpace(e.PrizeID) == "" {
			return errs.New("queuestore", errs.CodeInvalid, errs.WithMessage("claim event: prizeId required for prize claims"))
		}
	case ClaimKindFaucet:
		if e.Amount.LessThanOrEqual(decimal.Zero) {
			return errs.New("queuestore", errs.CodeInvalid, errs.WithMessage("claim event: amount must be >0 for faucet claims"))
		}
	default:
		return errs.New("queuestore", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("claim event: unknown kind %q", e.Kind)))
	}
	if e.ClaimedAt.IsZero() {
		return errs.New("queuestore", errs.CodeInvalid, errs.WithMessage("claim event: claimedAt required"))
	}
	return nil
}

func strictUnmarshal(payload json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

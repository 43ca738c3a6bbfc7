package campaign

import (
	"fmt"
	"strconv"
	"strings"
)

// Targets come in three address forms, resolved lazily by the sender:
//
//   - positive numeric id: channel or group chat
//   - negative numeric id: private chat (Telegram supergroups/private chats
//     use signed ids)
//   - "@username": requires an external directory lookup at send time
//
// CheckTarget validates the syntax only; whether the target actually exists
// is discovered during a sweep.
func CheckTarget(raw string) error {
	t := strings.TrimSpace(raw)
	if t == "" {
		return fmt.Errorf("%w: empty target", ErrValidation)
	}
	if strings.HasPrefix(t, "@") {
		if len(t) < 2 {
			return fmt.Errorf("%w: bare @ is not a username", ErrValidation)
		}
		return nil
	}
	if _, err := strconv.ParseInt(t, 10, 64); err != nil {
		return fmt.Errorf("%w: target %q is neither a chat id nor an @username", ErrValidation, raw)
	}
	return nil
}

// ValidatePayload enforces the creation-time content rules. maxTextLen <= 0
// disables the length bound.
func ValidatePayload(p Payload, maxTextLen int) error {
	switch p.Kind {
	case PayloadText:
		body := strings.TrimSpace(p.Text)
		if body == "" {
			return fmt.Errorf("%w: empty text payload", ErrValidation)
		}
		if maxTextLen > 0 && len(p.Text) > maxTextLen {
			return fmt.Errorf("%w: text payload exceeds %d bytes", ErrValidation, maxTextLen)
		}
	case PayloadImage, PayloadFile:
		if strings.TrimSpace(p.Ref) == "" {
			return fmt.Errorf("%w: %s payload needs a ref", ErrValidation, p.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrValidation, p.Kind)
	}
	return nil
}

// Package command encodes moderator button presses. Telegram carries them
// as callback data strings; everything past ParseCallback works with the
// typed Command.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

type Action string

const (
	ActionClaim      Action = "claim"
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionPickReject Action = "pick"
	ActionRelease    Action = "release"
)

var ErrMalformed = errors.New("malformed callback data")

type Command struct {
	Action    Action
	RequestID string
	Field     payment.Field
}

func Claim(id string) Command   { return Command{Action: ActionClaim, RequestID: id} }
func Approve(id string) Command { return Command{Action: ActionApprove, RequestID: id} }
func Release(id string) Command { return Command{Action: ActionRelease, RequestID: id} }

// PickReject asks for the field chooser of a reject.
func PickReject(id string) Command { return Command{Action: ActionPickReject, RequestID: id} }

func Reject(id string, f payment.Field) Command {
	return Command{Action: ActionReject, RequestID: id, Field: f}
}

// Data encodes c as callback data. Telegram limits it to 64 bytes, which a
// uuid plus the longest action and field names stays under.
func (c Command) Data() string {
	if c.Action == ActionReject {
		return fmt.Sprintf("%s:%s:%s", c.Action, c.RequestID, c.Field)
	}

	return fmt.Sprintf("%s:%s", c.Action, c.RequestID)
}

func ParseCallback(data string) (Command, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 || parts[1] == "" {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, data)
	}

	c := Command{Action: Action(parts[0]), RequestID: parts[1]}

	switch c.Action {
	case ActionClaim, ActionApprove, ActionPickReject, ActionRelease:
		if len(parts) != 2 {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformed, data)
		}

	case ActionReject:
		if len(parts) != 3 {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformed, data)
		}
		f, ok := payment.ParseField(parts[2])
		if !ok || f == payment.FieldNone {
			return Command{}, fmt.Errorf("%w: unknown field %q", ErrMalformed, parts[2])
		}
		c.Field = f

	default:
		return Command{}, fmt.Errorf("%w: unknown action %q", ErrMalformed, parts[0])
	}

	return c, nil
}

package reconciler

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/saravenpi/huddle/internal/models"
)

// ErrMalformed wraps every payload validation failure.
var ErrMalformed = errors.New("malformed payload")

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(messageStructLevel, models.Message{})
	return v
}

// messageStructLevel enforces the fields needed to route a message to its
// conversation.
func messageStructLevel(sl validator.StructLevel) {
	m := sl.Current().Interface().(models.Message)

	if m.From() == "" {
		sl.ReportError(m.Sender, "Sender", "Sender", "required", "")
	}

	switch m.Kind {
	case models.KindPrivate:
		if m.SenderID.Empty() {
			sl.ReportError(m.SenderID, "SenderID", "SenderID", "required", "")
		}
		if m.ReceiverID.Empty() {
			sl.ReportError(m.ReceiverID, "ReceiverID", "ReceiverID", "required", "")
		}
	case models.KindTeam:
		if m.TeamID.Empty() {
			sl.ReportError(m.TeamID, "TeamID", "TeamID", "required", "")
		}
	default:
		sl.ReportError(m.Kind, "Kind", "Kind", "oneof", "PRIVATE TEAM")
	}
}

// validate reports the first failing field of v.
func (r *Reconciler) validate(v any) error {
	err := r.validator.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		return errors.Wrap(ErrMalformed,
			fmt.Sprintf("field %s failed on %s", first.Field(), first.Tag()))
	}
	return errors.Wrap(ErrMalformed, err.Error())
}

// Validate checks that msg can be reconciled as kind.
func (r *Reconciler) Validate(msg models.Message, kind models.Kind) error {
	msg.Kind = kind
	return r.validate(msg)
}

package brain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"basegraph.app/courier/internal/domain"
)

const maxNoteKeyLength = 64

var (
	ErrEmptyActions      = errors.New("no actions provided")
	ErrUnknownActionType = errors.New("unknown action type")
	ErrContentTooShort   = errors.New("content too short")
	ErrContentTooLong    = errors.New("content too long")
	ErrMissingReason     = errors.New("ignore missing reason")
	ErrMissingNoteKey    = errors.New("note missing key")
	ErrConflictingIgnore = errors.New("ignore combined with a publishing action")
)

// ActionValidator checks a decision before anything is executed. Every
// failure wraps domain.ErrInvalidAction so the pipeline treats it as
// permanent.
type ActionValidator struct {
	maxPostLength int
}

// NewActionValidator creates a validator. maxPostLength <= 0 disables the
// length check.
func NewActionValidator(maxPostLength int) *ActionValidator {
	return &ActionValidator{maxPostLength: maxPostLength}
}

func (v *ActionValidator) Validate(signals []domain.ActionSignal) error {
	if err := v.validate(signals); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidAction, err)
	}
	return nil
}

func (v *ActionValidator) validate(signals []domain.ActionSignal) error {
	if len(signals) == 0 {
		return ErrEmptyActions
	}

	var publishes, ignores bool
	for i, action := range signals {
		var err error
		switch {
		case action.Publishes():
			publishes = true
			err = v.validateText(action)
		case action.Type == domain.ActionTypeIgnore:
			ignores = true
			err = v.validateIgnore(action)
		case action.Type == domain.ActionTypeSetNote:
			err = v.validateSetNote(action)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownActionType, action.Type)
		}
		if err != nil {
			return fmt.Errorf("action[%d] %s: %w", i, action.Type, err)
		}
	}

	if publishes && ignores {
		return ErrConflictingIgnore
	}
	return nil
}

func (v *ActionValidator) validateText(action domain.ActionSignal) error {
	// reply and post share a payload shape
	data, err := ParseActionData[PostAction](action)
	if err != nil {
		return err
	}

	text, _ := SanitizePostText(data.Text)
	if text == "" {
		return ErrContentTooShort
	}
	if v.maxPostLength > 0 {
		if n := utf8.RuneCountInString(text); n > v.maxPostLength {
			return fmt.Errorf("%w: %d > %d", ErrContentTooLong, n, v.maxPostLength)
		}
	}
	return nil
}

func (v *ActionValidator) validateIgnore(action domain.ActionSignal) error {
	data, err := ParseActionData[IgnoreAction](action)
	if err != nil {
		return err
	}
	if strings.TrimSpace(data.Reason) == "" {
		return ErrMissingReason
	}
	return nil
}

func (v *ActionValidator) validateSetNote(action domain.ActionSignal) error {
	data, err := ParseActionData[SetNoteAction](action)
	if err != nil {
		return err
	}
	key := strings.TrimSpace(data.Key)
	if key == "" {
		return ErrMissingNoteKey
	}
	if len(key) > maxNoteKeyLength {
		return fmt.Errorf("%w: note key over %d bytes", ErrContentTooLong, maxNoteKeyLength)
	}
	return nil
}

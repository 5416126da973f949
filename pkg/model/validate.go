package model

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Draft is a message that has not been persisted yet. The max tag on Content
// must equal MaxContentLength.
type Draft struct {
	SenderID    string `validate:"required"`
	RecipientID string `validate:"required,nefield=SenderID"`
	Content     string `validate:"required,max=4000"`
}

// NewDraft trims the content and validates the draft. Failures wrap ErrValidation.
func NewDraft(senderID, recipientID, content string) (Draft, error) {
	d := Draft{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     strings.TrimSpace(content),
	}
	if err := validate.Struct(d); err != nil {
		return Draft{}, fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	return d, nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "RecipientID" && fe.Tag() == "nefield":
		return "sender and recipient must differ"
	case fe.Field() == "Content" && fe.Tag() == "required":
		return "content is empty"
	case fe.Field() == "Content" && fe.Tag() == "max":
		return fmt.Sprintf("content exceeds %d characters", MaxContentLength)
	default:
		return fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag())
	}
}

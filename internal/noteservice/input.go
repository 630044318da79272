package noteservice

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaxContentLength bounds a note body in bytes.
const MaxContentLength = 1 << 20

var notBlank = validation.By(func(value any) error {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return errors.New("cannot be blank")
		}
	case *string:
		if v != nil && strings.TrimSpace(*v) == "" {
			return errors.New("cannot be blank")
		}
	}
	return nil
})

var tagRules = validation.Each(validation.Length(1, 64))

// CreateInput is the payload of a new note.
type CreateInput struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// Validate checks the input before anything touches the vault.
func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Content, notBlank, validation.Length(0, MaxContentLength)),
		validation.Field(&in.Tags, tagRules),
	)
}

// Patch is a partial note update. Nil fields are left unchanged.
type Patch struct {
	Content   *string   `json:"content,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
	IsStarred *bool     `json:"is_starred,omitempty"`
	Shared    *bool     `json:"shared,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Content == nil && p.Tags == nil && p.IsStarred == nil && p.Shared == nil
}

// Validate checks the patch.
func (p Patch) Validate() error {
	if p.Empty() {
		return errors.New("nothing to update")
	}
	var tags []string
	if p.Tags != nil {
		tags = *p.Tags
	}
	return validation.Errors{
		"content": validation.Validate(p.Content, notBlank, validation.Length(0, MaxContentLength)),
		"tags":    validation.Validate(tags, tagRules),
	}.Filter()
}

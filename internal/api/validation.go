package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// updateSessionRequest is the PATCH body for a session. Absent fields keep
// their current value.
type updateSessionRequest struct {
	Crop                *cropRequest `json:"crop" validate:"omitempty"`
	Zoom                *float64     `json:"zoom" validate:"omitempty,min=1,max=3"`
	Rotation            *float64     `json:"rotation" validate:"omitempty,min=-180,max=180"`
	Aspect              *string      `json:"aspect" validate:"omitempty,oneof=Free 1:1 4:3 16:9 3:2"`
	Width               *int         `json:"width" validate:"omitempty,min=1,max=5000"`
	Height              *int         `json:"height" validate:"omitempty,min=1,max=5000"`
	MaintainAspectRatio *bool        `json:"maintain_aspect_ratio"`
}

type cropRequest struct {
	X      float64 `json:"x" validate:"gte=0"`
	Y      float64 `json:"y" validate:"gte=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

type rotateRequest struct {
	Direction string `json:"direction" validate:"required,oneof=left right"`
}

// cropForm and resizeForm are the non-file fields of the one-shot routes.
type cropForm struct {
	X        float64 `validate:"gte=0"`
	Y        float64 `validate:"gte=0"`
	Width    float64 `validate:"gt=0"`
	Height   float64 `validate:"gt=0"`
	Rotation float64 `validate:"min=-180,max=180"`
}

type resizeForm struct {
	Width  int `validate:"min=1,max=5000"`
	Height int `validate:"min=1,max=5000"`
}

type createJobRequest struct {
	SourceType string       `json:"source_type" validate:"required,oneof=s3_presigned local_file"`
	ObjectKey  string       `json:"object_key" validate:"required_if=SourceType local_file"`
	WebhookURL string       `json:"webhook_url" validate:"omitempty,url"`
	Operation  string       `json:"operation" validate:"required,oneof=crop resize"`
	Preset     string       `json:"preset"`
	Crop       *cropRequest `json:"crop" validate:"required_if=Operation crop"`
	Rotation   float64      `json:"rotation" validate:"min=-180,max=180"`
	Width      int          `json:"width" validate:"omitempty,min=1,max=5000"`
	Height     int          `json:"height" validate:"omitempty,min=1,max=5000"`

	RemoveBackground bool `json:"remove_background"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

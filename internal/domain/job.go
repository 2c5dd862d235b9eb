package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	OperationCrop   = "crop"
	OperationResize = "resize"
)

// TransformSpec describes one crop or resize applied to a staged source.
type TransformSpec struct {
	Operation string         `json:"operation"`
	Preset    string         `json:"preset,omitempty"`
	Crop      *CropRectangle `json:"crop,omitempty"`
	Rotation  float64        `json:"rotation,omitempty"`
	Resize    *ResizeTarget  `json:"resize,omitempty"`

	// RemoveBackground strips the source's background before the transform.
	RemoveBackground bool `json:"remove_background,omitempty"`
}

func (s TransformSpec) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Operation)) {
	case OperationCrop:
		if s.Crop == nil {
			return errors.New("crop operation requires crop rectangle")
		}
		if err := s.Crop.Validate(); err != nil {
			return err
		}
		if s.Rotation < MinRotation || s.Rotation > MaxRotation {
			return fmt.Errorf("rotation must be within [%g, %g]", MinRotation, MaxRotation)
		}
	case OperationResize:
		if s.Resize == nil {
			return errors.New("resize operation requires target dimensions")
		}
		if err := s.Resize.Validate(); err != nil {
			return err
		}
		if s.Resize.Width > MaxResizeDimension || s.Resize.Height > MaxResizeDimension {
			return fmt.Errorf("resize dimensions must not exceed %d", MaxResizeDimension)
		}
	case "":
		return errors.New("operation is required")
	default:
		return fmt.Errorf("unsupported operation: %s", s.Operation)
	}
	if _, ok := LookupPreset(s.Preset); !ok {
		return fmt.Errorf("unknown preset: %s", s.Preset)
	}
	return nil
}

// Filename is the download name for the result of this transform.
func (s TransformSpec) Filename() string {
	if strings.TrimSpace(s.Preset) != "" {
		if p, ok := LookupPreset(s.Preset); ok {
			return p.Filename
		}
	}
	if s.Operation == OperationResize {
		return "resized-image.jpg"
	}
	return "cropped-image.jpg"
}

type CreateJobRequest struct {
	SourceType string        `json:"source_type"`
	WebhookURL string        `json:"webhook_url,omitempty"`
	ObjectKey  string        `json:"object_key,omitempty"`
	Transform  TransformSpec `json:"transform"`
}

type Job struct {
	ID         string
	Status     string
	SourceType string
	WebhookURL string
	Transform  TransformSpec
	ObjectKey  string
	ResultKey  string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if err := r.Transform.Validate(); err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	return nil
}

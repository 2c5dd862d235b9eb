// Package upload holds the validation gate every uploaded file passes before
// any decode work is attempted.
package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MsgInvalidType = "Please select a valid image file."

	megabyte = 1 << 20
)

var ErrRejected = errors.New("upload rejected")

// Rejection carries the user-facing reason a file was refused.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// Gate accepts image files up to MaxBytes.
type Gate struct {
	MaxBytes int64
}

func NewGate(maxBytes int64) Gate {
	return Gate{MaxBytes: maxBytes}
}

// Check validates the declared media type and size of a file.
func (g Gate) Check(contentType string, size int64) error {
	if !strings.HasPrefix(strings.TrimSpace(contentType), "image/") {
		return &Rejection{Reason: MsgInvalidType}
	}
	if g.MaxBytes > 0 && size > g.MaxBytes {
		return &Rejection{Reason: SizeMessage(g.MaxBytes)}
	}
	return nil
}

// Sniff returns the declared media type, or the detected one when the
// declaration is missing or generic.
func (g Gate) Sniff(declared string, head []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	return mimetype.Detect(head).String()
}

// SizeMessage renders the oversize rejection for a ceiling.
func SizeMessage(maxBytes int64) string {
	if maxBytes%megabyte == 0 {
		return fmt.Sprintf("File size must be less than %dMB.", maxBytes/megabyte)
	}
	return fmt.Sprintf("File size must be less than %.1fMB.", float64(maxBytes)/megabyte)
}

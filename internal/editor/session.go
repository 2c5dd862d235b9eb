// Package editor holds the state of an interactive crop or resize session and
// turns it into transform calls.
package editor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/suggest"
)

var (
	ErrStale           = errors.New("result superseded by a newer request")
	ErrNotFound        = errors.New("session not found")
	ErrNoResult        = errors.New("session has no result")
	ErrInvalidZoom     = fmt.Errorf("zoom must be between %g and %g", domain.MinZoom, domain.MaxZoom)
	ErrInvalidRotation = fmt.Errorf("rotation must be between %g and %g", domain.MinRotation, domain.MaxRotation)
)

type Direction string

const (
	RotateLeft  Direction = "left"
	RotateRight Direction = "right"
)

// ResizeSettings mirrors the width/height inputs and the aspect lock toggle.
type ResizeSettings struct {
	Width          int  `json:"width"`
	Height         int  `json:"height"`
	MaintainAspect bool `json:"maintain_aspect_ratio"`
}

func (r ResizeSettings) Target() domain.ResizeTarget {
	return domain.ResizeTarget{Width: r.Width, Height: r.Height}
}

// Output is the latest encoded result of a session.
type Output struct {
	Ref         string    `json:"ref"`
	ContentType string    `json:"content_type"`
	Operation   string    `json:"operation"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Bytes       int       `json:"bytes"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
}

// State is a point-in-time copy of a session, safe to read without the lock.
type State struct {
	ID          string               `json:"id"`
	Preset      string               `json:"preset"`
	SourceRef   string               `json:"-"`
	SourceBytes int64                `json:"source_bytes"`
	Original    domain.Dimensions    `json:"original"`
	Crop        domain.CropRectangle `json:"crop"`
	Aspect      *float64             `json:"aspect_ratio,omitempty"`
	Zoom        float64              `json:"zoom"`
	Rotation    domain.Rotation      `json:"rotation"`
	Resize      ResizeSettings       `json:"resize"`
	Result      *Output              `json:"result,omitempty"`
	Generation  uint64               `json:"generation"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Session is the editable state behind one uploaded image. All mutation goes
// through its methods; transforms run on a Ticket taken with Begin.
type Session struct {
	mu sync.Mutex

	id          string
	preset      domain.Preset
	sourceRef   string
	sourceBytes int64
	original    domain.Dimensions

	crop     domain.CropRectangle
	aspect   *float64
	zoom     float64
	rotation domain.Rotation
	resize   ResizeSettings

	result     *Output
	generation uint64
	closed     bool
	updatedAt  time.Time
	now        func() time.Time
}

// Source describes the uploaded image a session edits.
type Source struct {
	Ref      string
	Bytes    int64
	Original domain.Dimensions
}

// NewSession starts a session with the preset's aspect ratio, a centred
// initial crop and the default resize target.
func NewSession(id string, preset domain.Preset, src Source) *Session {
	s := &Session{
		id:          id,
		preset:      preset,
		sourceRef:   src.Ref,
		sourceBytes: src.Bytes,
		original:    src.Original,
		aspect:      preset.AspectRatio,
		zoom:        domain.MinZoom,
		crop:        suggest.Centered(src.Original, preset.AspectRatio),
		resize: ResizeSettings{
			Width:          domain.DefaultResizeTarget.Width,
			Height:         domain.DefaultResizeTarget.Height,
			MaintainAspect: true,
		},
		now: time.Now,
	}
	s.updatedAt = s.now().UTC()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Preset() domain.Preset {
	return s.preset
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := State{
		ID:          s.id,
		Preset:      s.preset.Name,
		SourceRef:   s.sourceRef,
		SourceBytes: s.sourceBytes,
		Original:    s.original,
		Crop:        s.crop,
		Aspect:      s.aspect,
		Zoom:        s.zoom,
		Rotation:    s.rotation,
		Resize:      s.resize,
		Generation:  s.generation,
		UpdatedAt:   s.updatedAt,
	}
	if s.result != nil {
		out := *s.result
		st.Result = &out
	}
	return st
}

func (s *Session) touch() {
	s.updatedAt = s.now().UTC()
}

func (s *Session) lastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// SetCrop replaces the crop rectangle reported by the cropper.
func (s *Session) SetCrop(rect domain.CropRectangle) error {
	if err := rect.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crop = rect
	s.touch()
	return nil
}

func (s *Session) SetZoom(zoom float64) error {
	if zoom < domain.MinZoom || zoom > domain.MaxZoom {
		return ErrInvalidZoom
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = zoom
	s.touch()
	return nil
}

func (s *Session) SetRotation(r domain.Rotation) error {
	if r < domain.MinRotation || r > domain.MaxRotation {
		return ErrInvalidRotation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotation = r
	s.touch()
	return nil
}

// Rotate turns the image a quarter in the given direction and wraps the
// angle back into range.
func (s *Session) Rotate(dir Direction) (domain.Rotation, error) {
	var delta domain.Rotation
	switch dir {
	case RotateLeft:
		delta = -90
	case RotateRight:
		delta = 90
	default:
		return 0, fmt.Errorf("unknown rotate direction %q", dir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotation = (s.rotation + delta).Wrap()
	s.touch()
	return s.rotation, nil
}

// SetAspect switches the aspect ratio and re-centres the crop rectangle.
// A nil aspect frees the rectangle.
func (s *Session) SetAspect(aspect *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aspect = aspect
	s.crop = suggest.Centered(s.original, aspect)
	s.touch()
}

func (s *Session) SetMaintainAspect(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resize.MaintainAspect = on
	s.touch()
}

// SetWidth changes the resize width; with the lock on, height follows.
func (s *Session) SetWidth(w int) ResizeSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setTargetLocked(domain.ResizeTarget{Width: w, Height: s.resize.Height}, true, false)
}

// SetHeight changes the resize height; with the lock on, width follows.
func (s *Session) SetHeight(h int) ResizeSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setTargetLocked(domain.ResizeTarget{Width: s.resize.Width, Height: h}, false, true)
}

// SetSize applies both dimensions verbatim, as the size shortcuts do.
func (s *Session) SetSize(w, h int) ResizeSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setTargetLocked(domain.ResizeTarget{Width: w, Height: h}, true, true)
}

func (s *Session) setTargetLocked(t domain.ResizeTarget, widthChanged, heightChanged bool) ResizeSettings {
	if s.resize.MaintainAspect {
		t = domain.LockAspect(s.original, t, widthChanged, heightChanged)
	}
	s.resize.Width = t.Width
	s.resize.Height = t.Height
	s.touch()
	return s.resize
}

// Ticket pins the session parameters of one transform request.
type Ticket struct {
	State
	generation uint64
}

// Begin takes the next generation. Only the newest ticket may commit.
func (s *Session) Begin() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.touch()
	return Ticket{State: s.snapshotLocked(), generation: s.generation}
}

// commit stores out if t is still the newest ticket and returns the result it
// replaced. A closed session accepts nothing.
func (s *Session) commit(t Ticket, out Output) (*Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotFound
	}
	if t.generation != s.generation {
		return nil, ErrStale
	}
	prev := s.result
	s.result = &out
	s.touch()
	return prev, nil
}

// takeResult detaches the current result from the session.
func (s *Session) takeResult() (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Output{}, ErrNoResult
	}
	out := *s.result
	s.result = nil
	return out, nil
}

// close marks the session removed and hands back every blob reference it
// still owned.
func (s *Session) close() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	refs := []string{s.sourceRef}
	if s.result != nil {
		refs = append(refs, s.result.Ref)
		s.result = nil
	}
	return refs
}

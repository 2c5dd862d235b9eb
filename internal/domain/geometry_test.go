package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAspect(t *testing.T) {
	original := Dimensions{Width: 1600, Height: 900}

	got := LockAspect(original, ResizeTarget{Width: 800, Height: 900}, true, false)
	assert.Equal(t, ResizeTarget{Width: 800, Height: 450}, got)

	got = LockAspect(original, ResizeTarget{Width: 1600, Height: 300}, false, true)
	assert.Equal(t, ResizeTarget{Width: 533, Height: 300}, got)

	both := ResizeTarget{Width: 1920, Height: 1080}
	assert.Equal(t, both, LockAspect(original, both, true, true))

	assert.Equal(t, both, LockAspect(Dimensions{}, both, true, false))
}

func TestRotationWrap(t *testing.T) {
	cases := map[Rotation]Rotation{
		0:    0,
		90:   90,
		180:  180,
		-180: -180,
		270:  -90,
		-270: 90,
		450:  90,
	}
	for in, want := range cases {
		assert.InDelta(t, float64(want), float64(in.Wrap()), 1e-9, "wrap(%v)", in)
	}
}

func TestRotationRadians(t *testing.T) {
	assert.InDelta(t, math.Pi/2, Rotation(90).Radians(), 1e-12)
	assert.InDelta(t, -math.Pi, Rotation(-180).Radians(), 1e-12)
}

func TestCropRectangleValidate(t *testing.T) {
	require.NoError(t, CropRectangle{X: 0, Y: 0, Width: 10, Height: 10}.Validate())
	require.ErrorIs(t, CropRectangle{Width: 0, Height: 10}.Validate(), ErrDegenerateCrop)
	require.Error(t, CropRectangle{X: -1, Width: 10, Height: 10}.Validate())
}

func TestLookupPreset(t *testing.T) {
	p, ok := LookupPreset("")
	require.True(t, ok)
	assert.Equal(t, PresetCropImage, p.Name)
	assert.Nil(t, p.AspectRatio)
	assert.EqualValues(t, 10<<20, p.MaxUploadBytes)

	p, ok = LookupPreset("TikTok")
	require.True(t, ok)
	require.NotNil(t, p.AspectRatio)
	assert.InDelta(t, 9.0/16.0, *p.AspectRatio, 1e-12)
	assert.EqualValues(t, 40<<20, p.MaxUploadBytes)
	assert.Equal(t, "tiktok-cropped-image.jpg", p.Filename)

	_, ok = LookupPreset("myspace")
	assert.False(t, ok)

	list := Presets()
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Name, list[i].Name)
	}
}

package tileset

import (
	"errors"
	"fmt"
	"time"

	"github.com/zhangxrk/cesium/internal/geom"
)

type SceneMode uint8

const (
	Scene3D SceneMode = iota
	Scene2D
	ColumbusView
)

func (m SceneMode) String() string {
	switch m {
	case Scene3D:
		return "3d"
	case Scene2D:
		return "2d"
	case ColumbusView:
		return "columbus"
	default:
		return "unknown"
	}
}

// FrameState is the view of one rendered frame. It must not change while
// SelectTiles runs.
type FrameState struct {
	// FrameNumber increases by one every frame and starts at 1.
	FrameNumber   uint64
	Time          time.Time
	Mode          SceneMode
	Camera        geom.Camera
	Frustum       geom.Frustum
	Width         int
	Height        int
	CullingVolume *geom.CullingVolume
}

// NewFrameState validates the view and derives its culling volume.
func NewFrameState(frame uint64, now time.Time, mode SceneMode, cam geom.Camera, fr geom.Frustum, width, height int) (*FrameState, error) {
	if frame == 0 {
		return nil, errors.New("frame numbers start at 1")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("viewport %dx%d must be positive", width, height)
	}
	if fr == nil {
		return nil, errors.New("frustum is required")
	}
	_, ortho := fr.(geom.OrthographicFrustum)
	if mode == Scene2D && !ortho {
		return nil, errors.New("2d scenes need an orthographic frustum")
	}
	if _, ok := fr.(interface{ SSEDenominator() float64 }); !ok && !ortho {
		return nil, fmt.Errorf("unsupported frustum %T", fr)
	}
	return &FrameState{
		FrameNumber:   frame,
		Time:          now,
		Mode:          mode,
		Camera:        cam,
		Frustum:       fr,
		Width:         width,
		Height:        height,
		CullingVolume: fr.CullingVolume(cam),
	}, nil
}

package tileset

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var ErrInvalidOptions = errors.New("invalid tileset options")

// Options configures level of detail selection for one tileset.
type Options struct {
	// MaximumScreenSpaceError is the error, in pixels, a rendered tile may show.
	MaximumScreenSpaceError float64
	// BaseScreenSpaceError bounds the eager base traversal when skipping levels
	// without loading the desired level immediately.
	BaseScreenSpaceError float64

	SkipLevelOfDetail          bool
	SkipLevels                 int
	SkipScreenSpaceErrorFactor float64
	// ImmediatelyLoadDesiredLevelOfDetail loads only the tiles that meet the
	// maximum error, without intermediate levels.
	ImmediatelyLoadDesiredLevelOfDetail bool
	// LoadSiblings requests all siblings of a tile where the skip traversal stops.
	LoadSiblings bool

	// CullWithChildrenBounds culls replace tiles none of whose children are
	// visible, when the children are known to fit inside the tile.
	CullWithChildrenBounds bool

	DynamicScreenSpaceError        bool
	DynamicScreenSpaceErrorDensity float64
	DynamicScreenSpaceErrorFactor  float64

	// MaximumCachedTiles bounds the number of tiles with resident content.
	MaximumCachedTiles int

	ModelMatrix      mgl64.Mat4
	DebugFreezeFrame bool
}

func DefaultOptions() Options {
	return Options{
		MaximumScreenSpaceError:        16,
		BaseScreenSpaceError:           1024,
		SkipLevels:                     1,
		SkipScreenSpaceErrorFactor:     16,
		CullWithChildrenBounds:         true,
		DynamicScreenSpaceErrorDensity: 0.00278,
		DynamicScreenSpaceErrorFactor:  4.0,
		MaximumCachedTiles:             512,
		ModelMatrix:                    mgl64.Ident4(),
	}
}

// Validate rejects settings the traversal cannot honor.
func (o Options) Validate() error {
	switch {
	case !(o.MaximumScreenSpaceError > 0) || math.IsInf(o.MaximumScreenSpaceError, 0):
		return fmt.Errorf("%w: maximum screen space error must be positive, got %g", ErrInvalidOptions, o.MaximumScreenSpaceError)
	case o.BaseScreenSpaceError < 0 || math.IsNaN(o.BaseScreenSpaceError):
		return fmt.Errorf("%w: base screen space error must not be negative, got %g", ErrInvalidOptions, o.BaseScreenSpaceError)
	case o.SkipLevels < 0:
		return fmt.Errorf("%w: skip levels must not be negative, got %d", ErrInvalidOptions, o.SkipLevels)
	case !(o.SkipScreenSpaceErrorFactor >= 1):
		return fmt.Errorf("%w: skip screen space error factor must be at least 1, got %g", ErrInvalidOptions, o.SkipScreenSpaceErrorFactor)
	case o.MaximumCachedTiles <= 0:
		return fmt.Errorf("%w: maximum cached tiles must be positive, got %d", ErrInvalidOptions, o.MaximumCachedTiles)
	case o.DynamicScreenSpaceError && (o.DynamicScreenSpaceErrorDensity < 0 || o.DynamicScreenSpaceErrorFactor < 0):
		return fmt.Errorf("%w: dynamic screen space error density and factor must not be negative", ErrInvalidOptions)
	}
	return nil
}

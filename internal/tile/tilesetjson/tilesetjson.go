// Package tilesetjson decodes the subset of the 3D Tiles tileset.json format
// the traversal understands into a tile.Tree.
package tilesetjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zhangxrk/cesium/internal/geom"
	"github.com/zhangxrk/cesium/internal/tile"
)

var ErrUnsupportedVolume = errors.New("unsupported bounding volume")

type Document struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           *Node   `json:"root"`
}

type Asset struct {
	Version string `json:"version"`
}

type Node struct {
	BoundingVolume      Volume    `json:"boundingVolume"`
	ViewerRequestVolume *Volume   `json:"viewerRequestVolume,omitempty"`
	GeometricError      float64   `json:"geometricError"`
	Refine              string    `json:"refine,omitempty"`
	Transform           []float64 `json:"transform,omitempty"`
	Content             *Content  `json:"content,omitempty"`
	Expire              *Expire   `json:"expire,omitempty"`
	Children            []*Node   `json:"children,omitempty"`
}

type Volume struct {
	Box    []float64 `json:"box,omitempty"`
	Sphere []float64 `json:"sphere,omitempty"`
	Region []float64 `json:"region,omitempty"`
}

type Content struct {
	URI string `json:"uri"`
	// older tilesets spell it url
	URL string `json:"url,omitempty"`
	// BoundingVolume is a tighter fit around the content than the tile's own.
	BoundingVolume *Volume `json:"boundingVolume,omitempty"`
}

type Expire struct {
	Date time.Time `json:"date"`
}

// Tileset is a decoded tileset: its tree plus the error of not rendering it at all.
type Tileset struct {
	Tree           *tile.Tree
	GeometricError float64
}

// Decode reads a tileset document from r.
func Decode(r io.Reader) (*Tileset, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tileset: %w", err)
	}
	return Build(doc)
}

// Parse decodes a tileset document held in memory.
func Parse(b []byte) (*Tileset, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode tileset: %w", err)
	}
	return Build(doc)
}

// Build turns a decoded document into a tree. Children inherit the refine
// mode of their parent when they do not declare one.
func Build(doc Document) (*Tileset, error) {
	if doc.Root == nil {
		return nil, errors.New("tileset has no root")
	}
	if doc.GeometricError < 0 {
		return nil, fmt.Errorf("tileset geometricError %g is negative", doc.GeometricError)
	}

	tree := tile.NewTree()
	type item struct {
		node   *Node
		parent tile.ID
		refine tile.Refine
	}
	stack := []item{{node: doc.Root, parent: tile.None, refine: tile.RefineReplace}}
	for len(stack) > 0 {
		n := len(stack) - 1
		it := stack[n]
		stack = stack[:n]

		t, err := newTile(it.node, it.refine)
		if err != nil {
			return nil, err
		}
		id, err := tree.Add(it.parent, t)
		if err != nil {
			return nil, err
		}
		// reversed so children keep document order in the arena
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: it.node.Children[i], parent: id, refine: t.Refine})
		}
	}
	tree.ComputeOptimizationHints()
	return &Tileset{Tree: tree, GeometricError: doc.GeometricError}, nil
}

func newTile(n *Node, inherited tile.Refine) (*tile.Tile, error) {
	if n.GeometricError < 0 {
		return nil, fmt.Errorf("tile geometricError %g is negative", n.GeometricError)
	}
	bv, err := volume(n.BoundingVolume)
	if err != nil {
		return nil, fmt.Errorf("boundingVolume: %w", err)
	}

	refine := inherited
	switch strings.ToUpper(strings.TrimSpace(n.Refine)) {
	case "":
	case "ADD":
		refine = tile.RefineAdd
	case "REPLACE":
		refine = tile.RefineReplace
	default:
		return nil, fmt.Errorf("unknown refine %q", n.Refine)
	}

	t := tile.New(bv, n.GeometricError, refine)

	if len(n.Transform) > 0 {
		if len(n.Transform) != 16 {
			return nil, fmt.Errorf("transform has %d elements, want 16", len(n.Transform))
		}
		var m mgl64.Mat4
		copy(m[:], n.Transform)
		t.Transform = m
	}
	if n.ViewerRequestVolume != nil {
		if t.ViewerRequestVolume, err = volume(*n.ViewerRequestVolume); err != nil {
			return nil, fmt.Errorf("viewerRequestVolume: %w", err)
		}
	}
	if n.Expire != nil {
		t.ExpireAt = n.Expire.Date
	}

	uri := ""
	if n.Content != nil {
		uri = n.Content.URI
		if uri == "" {
			uri = n.Content.URL
		}
		if n.Content.BoundingVolume != nil {
			if t.ContentBoundingVolume, err = volume(*n.Content.BoundingVolume); err != nil {
				return nil, fmt.Errorf("content boundingVolume: %w", err)
			}
		}
	}
	t.ContentURI = uri
	switch {
	case uri == "":
		t.State = tile.StateEmpty
	case strings.HasSuffix(strings.ToLower(uri), ".json"):
		t.HasTilesetContent = true
	}
	return t, nil
}

func volume(v Volume) (geom.BoundingVolume, error) {
	switch {
	case len(v.Box) == 12:
		b := v.Box
		return geom.OrientedBox{
			C: mgl64.Vec3{b[0], b[1], b[2]},
			HalfAxes: mgl64.Mat3FromCols(
				mgl64.Vec3{b[3], b[4], b[5]},
				mgl64.Vec3{b[6], b[7], b[8]},
				mgl64.Vec3{b[9], b[10], b[11]},
			),
		}, nil
	case len(v.Sphere) == 4:
		s := v.Sphere
		if s[3] < 0 {
			return nil, fmt.Errorf("sphere radius %g is negative", s[3])
		}
		return geom.Sphere{C: mgl64.Vec3{s[0], s[1], s[2]}, Radius: s[3]}, nil
	case len(v.Region) > 0:
		return nil, fmt.Errorf("region: %w", ErrUnsupportedVolume)
	default:
		return nil, ErrUnsupportedVolume
	}
}

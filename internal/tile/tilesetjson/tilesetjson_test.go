package tilesetjson

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"

	"github.com/zhangxrk/cesium/internal/geom"
	"github.com/zhangxrk/cesium/internal/tile"
)

const sample = `{
  "asset": {"version": "1.0"},
  "geometricError": 500,
  "root": {
    "boundingVolume": {"sphere": [0, 0, 0, 100]},
    "geometricError": 100,
    "refine": "ADD",
    "content": {"uri": "root.b3dm", "boundingVolume": {"sphere": [1, 2, 3, 40]}},
    "children": [
      {
        "boundingVolume": {"box": [10, 0, 0, 10, 0, 0, 0, 10, 0, 0, 0, 10]},
        "geometricError": 10,
        "content": {"url": "a.b3dm"},
        "expire": {"date": "2030-01-02T03:04:05Z"}
      },
      {
        "boundingVolume": {"sphere": [-10, 0, 0, 10]},
        "geometricError": 10,
        "refine": "replace",
        "children": [
          {
            "boundingVolume": {"sphere": [-10, 0, 0, 5]},
            "geometricError": 0,
            "content": {"uri": "external/tileset.json"}
          }
        ]
      }
    ]
  }
}`

func TestDecode(t *testing.T) {
	ts, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ts.GeometricError != 500 || ts.Tree.Len() != 4 {
		t.Fatalf("geometricError=%g len=%d", ts.GeometricError, ts.Tree.Len())
	}

	tr := ts.Tree
	var uris []string
	var refines []tile.Refine
	tr.Walk(tr.Root().ID, func(tl *tile.Tile) bool {
		uris = append(uris, tl.ContentURI)
		refines = append(refines, tl.Refine)
		return true
	})
	if diff := cmp.Diff([]string{"root.b3dm", "a.b3dm", "", "external/tileset.json"}, uris); diff != "" {
		t.Fatalf("uris mismatch (-want +got):\n%s", diff)
	}
	// the box child inherits ADD, the sphere child overrides and passes REPLACE on
	want := []tile.Refine{tile.RefineAdd, tile.RefineAdd, tile.RefineReplace, tile.RefineReplace}
	if diff := cmp.Diff(want, refines); diff != "" {
		t.Fatalf("refine mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(geom.BoundingVolume(geom.Sphere{C: mgl64.Vec3{1, 2, 3}, Radius: 40}), tr.Root().ContentBoundingVolume); diff != "" {
		t.Fatalf("content volume mismatch (-want +got):\n%s", diff)
	}
	if tr.Get(1).ContentBoundingVolume != nil {
		t.Fatalf("tile without a content volume got %v", tr.Get(1).ContentBoundingVolume)
	}
	if _, ok := tr.Get(1).BoundingVolume.(geom.OrientedBox); !ok {
		t.Fatalf("box volume decoded as %T", tr.Get(1).BoundingVolume)
	}
	if got := tr.Get(1).ExpireAt; !got.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("expire %v", got)
	}
	if !tr.Get(2).HasEmptyContent() {
		t.Fatalf("tile without content should be empty")
	}
	if !tr.Get(3).HasTilesetContent {
		t.Fatalf("json content should be an external tileset")
	}
	if tr.Root().OptimChildrenWithinParent == tile.NotComputed {
		t.Fatalf("optimization hints not computed")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		is   error
	}{
		{"no root", `{"geometricError": 1}`, nil},
		{"negative error", `{"geometricError": 1, "root": {"boundingVolume": {"sphere": [0,0,0,1]}, "geometricError": -1}}`, nil},
		{"region", `{"geometricError": 1, "root": {"boundingVolume": {"region": [0,0,1,1,0,10]}, "geometricError": 1}}`, ErrUnsupportedVolume},
		{"no volume", `{"geometricError": 1, "root": {"boundingVolume": {}, "geometricError": 1}}`, ErrUnsupportedVolume},
		{"bad refine", `{"geometricError": 1, "root": {"boundingVolume": {"sphere": [0,0,0,1]}, "geometricError": 1, "refine": "MERGE"}}`, nil},
		{"short transform", `{"geometricError": 1, "root": {"boundingVolume": {"sphere": [0,0,0,1]}, "geometricError": 1, "transform": [1,0,0]}}`, nil},
		{"bad content volume", `{"geometricError": 1, "root": {"boundingVolume": {"sphere": [0,0,0,1]}, "geometricError": 1, "content": {"uri": "a.b3dm", "boundingVolume": {"region": [0,0,1,1,0,10]}}}}`, ErrUnsupportedVolume},
		{"not json", `{`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("want %v, got %v", tc.is, err)
			}
		})
	}
}

func TestTransformIsColumnMajor(t *testing.T) {
	doc := `{"geometricError": 1, "root": {
	  "boundingVolume": {"sphere": [0,0,0,1]}, "geometricError": 1,
	  "transform": [1,0,0,0, 0,1,0,0, 0,0,1,0, 7,8,9,1]}}`
	ts, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := ts.Tree.Root().Transform
	if m.At(0, 3) != 7 || m.At(1, 3) != 8 || m.At(2, 3) != 9 {
		t.Fatalf("translation not in the last column: %v", m)
	}
}

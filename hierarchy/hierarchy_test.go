package hierarchy

import (
	"errors"
	"testing"

	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

func blocks(sizes ...float64) []document.Block {
	out := make([]document.Block, len(sizes))
	for i, s := range sizes {
		out[i] = document.Block{Text: "b", FontSize: s, Page: 1}
	}
	return out
}

func TestClusterBlocksRejectsK(t *testing.T) {
	for _, k := range []int{0, 8, -1} {
		if _, err := ClusterBlocks(blocks(12), k); !errors.Is(err, kerr.ErrValidation) {
			t.Errorf("k=%d: expected validation error, got %v", k, err)
		}
	}
}

func TestClusterBlocks(t *testing.T) {
	in := blocks(24, 24.02, 18, 18, 12, 12, 12, 12, 12, 12)
	clusters, err := ClusterBlocks(in, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(clusters))
	}
	for i := 1; i < len(clusters); i++ {
		if clusters[i-1].Centroid <= clusters[i].Centroid {
			t.Errorf("clusters not sorted descending: %v", clusters)
		}
	}
	if n := len(clusters[2].Blocks); n != 6 {
		t.Errorf("body cluster has %d blocks, want 6", n)
	}

	levels := AssignLevels(clusters)
	if levels[0] != 1 || levels[1] != 2 || levels[2] != 0 {
		t.Errorf("levels = %v, want [1 2 0]", levels)
	}
}

// WHAT: the same input and k always produce the same clustering.
func TestClusterBlocksDeterministic(t *testing.T) {
	in := blocks(30, 22, 22, 16, 11, 11, 11, 10, 9, 11, 11)
	a, _ := ClusterBlocks(in, 6)
	b, _ := ClusterBlocks(in, 6)
	if len(a) != len(b) {
		t.Fatal("cluster counts differ")
	}
	for i := range a {
		if a[i].Centroid != b[i].Centroid || len(a[i].Blocks) != len(b[i].Blocks) {
			t.Fatalf("cluster %d differs", i)
		}
	}
}

func TestClusterBlocksFewerSizesThanK(t *testing.T) {
	clusters, err := ClusterBlocks(blocks(12, 12, 12, 20), 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected empty clusters dropped, got %d", len(clusters))
	}
	levels := AssignLevels(clusters)
	if levels[0] != 1 || levels[1] != 0 {
		t.Errorf("levels = %v", levels)
	}
}

func TestUniformSizesHaveNoHeadings(t *testing.T) {
	clusters, _ := ClusterBlocks(blocks(11, 11, 11), 3)
	for _, l := range AssignLevels(clusters) {
		if l != 0 {
			t.Errorf("uniform text produced heading level %d", l)
		}
	}
	if c, err := ClusterBlocks(nil, 3); err != nil || c != nil {
		t.Errorf("empty input: %v %v", c, err)
	}
}

func TestElements(t *testing.T) {
	in := []document.Block{
		{Text: "Title", FontSize: 24, Page: 1, BBox: &document.BBox{Left: 1, Top: 2, Right: 3, Bottom: 4}},
		{Text: "body one", FontSize: 11, Page: 1},
		{Text: "body two", FontSize: 11, Page: 1},
		{Text: "body three", FontSize: 11, Page: 2},
	}
	els, err := Elements(in, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 4 {
		t.Fatalf("got %d elements", len(els))
	}
	if els[0].Type != document.ElementHeading || els[0].Level != 1 {
		t.Errorf("first element = %+v", els[0])
	}
	if _, ok := els[0].Metadata["bbox"]; !ok {
		t.Error("bbox not retained")
	}
	if els[3].Type != document.ElementParagraph || els[3].PageNumber != 2 {
		t.Errorf("last element = %+v", els[3])
	}
}

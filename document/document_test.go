package document

import (
	"strings"
	"testing"
)

func TestMarkdownTable(t *testing.T) {
	md := MarkdownTable([][]string{{"Name", "Qty"}, {"apple", "3"}, {"pear|green"}})
	want := "| Name | Qty |\n| --- | --- |\n| apple | 3 |\n| pear\\|green |  |"
	if md != want {
		t.Errorf("MarkdownTable =\n%s\nwant\n%s", md, want)
	}
	if MarkdownTable(nil) != "" {
		t.Error("empty table should render empty")
	}
}

func TestResultCloneIsDeep(t *testing.T) {
	w := 10
	r := &Result{
		Content:  "x",
		Metadata: Metadata{"authors": []string{"a"}, "nested": map[string]any{"k": "v"}},
		Tables:   []Table{NewTable([][]string{{"h"}, {"c"}}, 1)},
		Images:   []Image{{Data: []byte{1, 2}, Width: &w}},
		Chunks:   []Chunk{{Content: "x", Embedding: []float32{0.1}}},
	}
	c := r.Clone()
	c.Metadata["authors"].([]string)[0] = "b"
	c.Metadata["nested"].(map[string]any)["k"] = "changed"
	c.Tables[0].Cells[1][0] = "changed"
	c.Images[0].Data[0] = 9
	*c.Images[0].Width = 99
	c.Chunks[0].Embedding[0] = 9

	if r.Metadata["authors"].([]string)[0] != "a" {
		t.Error("authors shared")
	}
	if r.Metadata["nested"].(map[string]any)["k"] != "v" {
		t.Error("nested map shared")
	}
	if r.Tables[0].Cells[1][0] != "c" {
		t.Error("table cells shared")
	}
	if r.Images[0].Data[0] != 1 || *r.Images[0].Width != 10 {
		t.Error("image shared")
	}
	if r.Chunks[0].Embedding[0] != 0.1 {
		t.Error("embedding shared")
	}
}

func TestFromOutcome(t *testing.T) {
	o := &Outcome{Content: "hello", MIMEType: "text/plain"}
	r := FromOutcome(o)
	if r.Metadata == nil || r.Tables == nil {
		t.Fatal("metadata and tables must be non-nil")
	}
	r.Metadata["k"] = 1
	if o.Metadata != nil {
		t.Error("outcome metadata mutated")
	}
	if !strings.Contains(r.Content, "hello") {
		t.Error("content lost")
	}
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{"title": "T", "page_count": float64(3), "n": 2}
	if m.String("title") != "T" || m.String("missing") != "" {
		t.Error("String accessor")
	}
	if v, ok := m.Int("page_count"); !ok || v != 3 {
		t.Error("Int from float64")
	}
	if v, ok := m.Int("n"); !ok || v != 2 {
		t.Error("Int from int")
	}
	if _, ok := m.Int("title"); ok {
		t.Error("Int from string should fail")
	}
}

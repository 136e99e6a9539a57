package richdoc

import (
	"errors"
	"testing"
)

func testSchema() *Schema {
	return NewSchema(
		[]NodeSpec{
			{Name: "paragraph"},
			{Name: "heading", Validate: func(attrs map[string]any, _ []*Node) error {
				level, _ := attrs["level"].(int)
				if level < 1 || level > 6 {
					return errors.New("level must be 1-6")
				}
				return nil
			}},
		},
		[]MarkSpec{
			{Name: "bold"},
			{Name: "link", Validate: func(attrs map[string]any) error {
				if _, ok := attrs["href"]; !ok {
					return errors.New("link requires href")
				}
				return nil
			}},
		},
	)
}

func TestSchemaNodeConstructsRegisteredType(t *testing.T) {
	s := testSchema()
	n, err := s.Node("paragraph", nil, nil)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if n.TypeName != "paragraph" {
		t.Fatalf("expected TypeName=paragraph, got %q", n.TypeName)
	}
}

func TestSchemaNodeRejectsUnknownType(t *testing.T) {
	s := testSchema()
	_, err := s.Node("blockquote", nil, nil)
	if !errors.Is(err, ErrUnknownNodeType) {
		t.Fatalf("expected ErrUnknownNodeType, got %v", err)
	}
}

func TestSchemaNodeValidateHookRejectsBadAttrs(t *testing.T) {
	s := testSchema()
	_, err := s.Node("heading", map[string]any{"level": 9}, nil)
	if err == nil {
		t.Fatalf("expected heading level 9 to be rejected")
	}
}

func TestSchemaNodeValidateHookAcceptsGoodAttrs(t *testing.T) {
	s := testSchema()
	n, err := s.Node("heading", map[string]any{"level": 2}, nil)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if n.Attrs["level"] != 2 {
		t.Fatalf("expected attrs to be carried onto the node")
	}
}

func TestSchemaMarkRejectsUnknownType(t *testing.T) {
	s := testSchema()
	_, err := s.Mark("underline", nil)
	if !errors.Is(err, ErrUnknownMarkType) {
		t.Fatalf("expected ErrUnknownMarkType, got %v", err)
	}
}

func TestSchemaMarkValidateHookRejectsMissingHref(t *testing.T) {
	s := testSchema()
	_, err := s.Mark("link", nil)
	if err == nil {
		t.Fatalf("expected link mark without href to be rejected")
	}
}

func TestNodeHasMarkFindsByTypeName(t *testing.T) {
	s := testSchema()
	bold, err := s.Mark("bold", nil)
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	text, err := s.Text("hi", []*Mark{bold})
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if _, ok := text.HasMark("bold"); !ok {
		t.Fatalf("expected HasMark(bold) to find the attached mark")
	}
	if _, ok := text.HasMark("italic"); ok {
		t.Fatalf("expected HasMark(italic) to report false")
	}
}

func TestSchemaNodeClonesAttrsSoCallerMutationDoesNotLeak(t *testing.T) {
	s := testSchema()
	attrs := map[string]any{"level": 2}
	n, err := s.Node("heading", attrs, nil)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	attrs["level"] = 99
	if n.Attrs["level"] != 2 {
		t.Fatalf("expected node's attrs to be independent of the caller's map, got %v", n.Attrs["level"])
	}
}

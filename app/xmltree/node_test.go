package xmltree

import (
	"testing"
)

func TestMatchCoversEveryKind(t *testing.T) {
	describe := func(n Node) string {
		return Match(n,
			func(s string) string { return "scalar:" + s },
			func(items []Node) string { return "list" },
			func(m Node) string { return "map" },
		)
	}

	tests := []struct {
		node     Node
		expected string
	}{
		{Scalar("x"), "scalar:x"},
		{List(Scalar("a"), Scalar("b")), "list"},
		{Map(map[string]Node{"k": Scalar("v")}), "map"},
		{Node{}, "map"},
	}

	for _, tt := range tests {
		if got := describe(tt.node); got != tt.expected {
			t.Errorf("Expected %q, got: %q", tt.expected, got)
		}
	}
}

func TestAccessorsOnWrongKind(t *testing.T) {
	scalar := Scalar("x")
	if _, ok := scalar.Get("k"); ok {
		t.Error("Expected Get on a scalar to fail")
	}
	if _, ok := scalar.List(); ok {
		t.Error("Expected List on a scalar to fail")
	}
	if _, ok := Map(nil).Scalar(); ok {
		t.Error("Expected Scalar on a map to fail")
	}
}

func TestListReturnsCopy(t *testing.T) {
	node := List(Scalar("a"))
	items, _ := node.List()
	items[0] = Scalar("changed")

	again, _ := node.List()
	if value, _ := again[0].Scalar(); value != "a" {
		t.Errorf("Expected list to be unchanged, got: %q", value)
	}
}

func TestWithout(t *testing.T) {
	node := Map(map[string]Node{"a": Scalar("1"), "b": Scalar("2")})
	trimmed := node.Without("a")

	if _, ok := trimmed.Get("a"); ok {
		t.Error("Expected key a to be removed")
	}
	if _, ok := node.Get("a"); !ok {
		t.Error("Expected original node to keep key a")
	}
}

func TestItems(t *testing.T) {
	if n := len(Scalar("x").Items()); n != 1 {
		t.Errorf("Expected 1 item for a scalar, got: %d", n)
	}
	if n := len(List(Scalar("a"), Scalar("b")).Items()); n != 2 {
		t.Errorf("Expected 2 items for a list, got: %d", n)
	}
}

func TestMarshalJSON(t *testing.T) {
	node := Map(map[string]Node{
		"b": List(Scalar("1"), Scalar("2")),
		"a": Scalar("x"),
	})
	expected := `{"a":"x","b":["1","2"]}`
	if got := node.String(); got != expected {
		t.Errorf("Expected %s, got: %s", expected, got)
	}
	if got := (Node{}).String(); got != "{}" {
		t.Errorf("Expected {}, got: %s", got)
	}
}

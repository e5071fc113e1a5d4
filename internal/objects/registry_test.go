package objects

import "testing"

func testObject(tag string) *Object {
	return &Object{
		Type:       tag,
		Table:      tag,
		TeamScoped: true,
		Columns: []ColumnDefinition{
			{Key: "name", Label: "Name", Type: FieldString, Sortable: true, Filterable: true},
		},
	}
}

func TestRegistry_DuplicateType(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(testObject("widgets")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(testObject("widgets")); err == nil {
		t.Fatal("expected error registering duplicate type")
	}
}

func TestRegistry_GetMiss(t *testing.T) {
	reg := NewRegistry()
	if obj := reg.Get("nope"); obj != nil {
		t.Fatalf("expected nil for unknown type, got %v", obj.Type)
	}
}

func TestRegistry_All(t *testing.T) {
	reg := NewRegistry()
	for _, tag := range []string{"b_things", "a_things"} {
		if err := reg.Register(testObject(tag)); err != nil {
			t.Fatalf("register %s: %v", tag, err)
		}
	}
	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(all))
	}
}

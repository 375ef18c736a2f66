package intent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	want := []string{"create-wallet", "show-balance", "list-transactions", "make-payment"}
	cmds := c.Commands()
	if len(cmds) != len(want) {
		t.Fatalf("got %d commands, want %d", len(cmds), len(want))
	}
	for i, id := range want {
		if cmds[i].ID != id {
			t.Errorf("command %d = %q, want %q", i, cmds[i].ID, id)
		}
		if c.Position(id) != i {
			t.Errorf("Position(%q) = %d", id, c.Position(id))
		}
	}
	if c.Contains("delete-wallet") {
		t.Error("unexpected command")
	}
}

func TestCatalogValidation(t *testing.T) {
	cases := map[string][]Command{
		"empty":          nil,
		"no id":          {{Description: "x"}},
		"no description": {{ID: "a"}},
		"duplicate":      {{ID: "a", Description: "x"}, {ID: "a", Description: "y"}},
	}
	for name, cmds := range cases {
		if _, err := NewCatalog(cmds); err == nil {
			t.Errorf("%s: catalog accepted", name)
		}
	}
}

func TestCatalogCommandsIsACopy(t *testing.T) {
	c := DefaultCatalog()
	cmds := c.Commands()
	cmds[0].ID = "mutated"
	if c.Commands()[0].ID != "create-wallet" {
		t.Fatal("catalog mutated through Commands")
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(`[{"id":"ping","description":"check the service"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 || !c.Contains("ping") {
		t.Fatalf("loaded %+v", c.Commands())
	}

	def, err := LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	if def.Len() != 4 {
		t.Fatalf("default catalog has %d commands", def.Len())
	}
}

func TestFingerprintTracksContentAndOrder(t *testing.T) {
	a, _ := NewCatalog([]Command{{"a", "x"}, {"b", "y"}})
	b, _ := NewCatalog([]Command{{"a", "x"}, {"b", "y"}})
	c, _ := NewCatalog([]Command{{"b", "y"}, {"a", "x"}})
	d, _ := NewCatalog([]Command{{"a", "x"}, {"b", "z"}})

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal catalogs differ")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("reordered catalog has same fingerprint")
	}
	if a.Fingerprint() == d.Fingerprint() {
		t.Error("changed description has same fingerprint")
	}
}

package catalog

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	c := New()
	c.Register(Model{ID: "m1", Vendor: VendorLocal, MaxInputTokens: 8192})

	m, ok := c.Lookup("m1")
	if !ok {
		t.Fatal("expected m1 to be registered")
	}
	if m.MaxInputTokens != 8192 {
		t.Errorf("MaxInputTokens = %d, want 8192", m.MaxInputTokens)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Error("expected lookup miss for unknown model")
	}
}

func TestFirstRegisteredIsDefault(t *testing.T) {
	c := New()
	c.Register(Model{ID: "first"})
	c.Register(Model{ID: "second"})

	d, ok := c.Default()
	if !ok || d.ID != "first" {
		t.Errorf("Default() = %v, %v; want first", d.ID, ok)
	}

	if err := c.SetDefault("second"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	d, _ = c.Default()
	if d.ID != "second" {
		t.Errorf("Default() after SetDefault = %v", d.ID)
	}

	if err := c.SetDefault("nope"); err == nil {
		t.Error("expected error setting unknown default")
	}
}

func TestListSorted(t *testing.T) {
	c := New()
	c.Register(Model{ID: "b"})
	c.Register(Model{ID: "a"})
	c.Register(Model{ID: "c"})

	list := c.List()
	if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
		t.Errorf("List() order wrong: %v", list)
	}
}

func TestBuiltinCoversAllVendors(t *testing.T) {
	c := Builtin()
	seen := map[Vendor]bool{}
	for _, m := range c.List() {
		seen[m.Vendor] = true
		if m.MaxInputTokens <= 0 {
			t.Errorf("model %s has no context window", m.ID)
		}
	}
	for _, v := range []Vendor{VendorAnthropic, VendorOpenAI, VendorGoogle} {
		if !seen[v] {
			t.Errorf("builtin catalog missing vendor %s", v)
		}
	}
}

package factory

import "testing"

type sample struct{ A int }

type sampleConf struct {
	A int `json:"a"`
}

// Test registry registration and instantiation using Decode.
func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{A: c.A}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"a": 3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.A != 3 {
		t.Fatalf("expected 3 got %d", inst.A)
	}
}

// Test duplicate registration and unknown type errors.
func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", nil); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "y"}); err == nil {
		t.Fatal("expected unknown type error")
	}
}

func TestRegistry_UnknownListsTypes(t *testing.T) {
	reg := NewRegistry[int]()
	reg.MustRegister("memory", func(map[string]any) (int, error) { return 1, nil })
	reg.MustRegister("sqlite", func(map[string]any) (int, error) { return 2, nil })
	_, err := reg.Create(ModuleConfig{Type: "mongo"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); got != `unknown module type "mongo" (known: memory, sqlite)` {
		t.Fatalf("unexpected message %q", got)
	}
	if err := reg.Register("memory", func(map[string]any) (int, error) { return 0, nil }); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestDecode_WeakTypes(t *testing.T) {
	var c struct {
		Radius float64 `json:"radius_km"`
		Buffer int     `json:"buffer"`
	}
	if err := Decode(map[string]any{"radius_km": "2.5", "buffer": "16"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Radius != 2.5 || c.Buffer != 16 {
		t.Fatalf("unexpected %+v", c)
	}
}

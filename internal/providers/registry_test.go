package providers

import (
	"context"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()
		r.Register("mock", mock)

		got, err := r.Get("mock")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != mock {
			t.Error("got different generator")
		}
		if !r.Has("mock") {
			t.Error("Has(mock) = false")
		}
	})

	t.Run("get missing", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.Get("nope"); err == nil {
			t.Error("expected error for missing generator")
		}
	})

	t.Run("route model", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()
		r.Register("mock", mock)
		r.RouteModel("image-model", "mock")

		got, err := r.ForModel("image-model")
		if err != nil {
			t.Fatalf("ForModel() error = %v", err)
		}
		if got != mock {
			t.Error("ForModel returned different generator")
		}
		if _, err := r.ForModel("unrouted"); err == nil {
			t.Error("expected error for unrouted model")
		}

		r.RouteModel("orphan", "missing-provider")
		if _, err := r.ForModel("orphan"); err == nil {
			t.Error("expected error for model routed to missing provider")
		}
	})

	t.Run("unregister", func(t *testing.T) {
		r := NewRegistry()
		r.Register("a", NewMockClient())
		r.Register("b", NewMockClient())
		r.Unregister("a")

		names := r.List()
		if len(names) != 1 || names[0] != "b" {
			t.Errorf("List() = %v, want [b]", names)
		}
	})

	t.Run("list sorted", func(t *testing.T) {
		r := NewRegistry()
		r.Register("zeta", NewMockClient())
		r.Register("alpha", NewMockClient())

		names := r.List()
		if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
			t.Errorf("List() = %v", names)
		}
	})
}

func TestRegistryReload(t *testing.T) {
	ctx := context.Background()
	cfg := RegistryConfig{
		Providers: map[string]ProviderConfig{
			"primary":  {Type: MockClientName, Enabled: true},
			"disabled": {Type: MockClientName, Enabled: false},
		},
		Models: map[string]string{"m1": "primary"},
	}

	r, err := NewRegistryFromConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig() error = %v", err)
	}
	if !r.Has("primary") {
		t.Fatal("primary should be registered")
	}
	if r.Has("disabled") {
		t.Error("disabled provider should not be registered")
	}
	first, _ := r.Get("primary")

	t.Run("unchanged config keeps instance", func(t *testing.T) {
		if err := r.Reload(ctx, cfg); err != nil {
			t.Fatalf("Reload() error = %v", err)
		}
		again, _ := r.Get("primary")
		if again != first {
			t.Error("unchanged provider should not be recreated")
		}
	})

	t.Run("changed config recreates", func(t *testing.T) {
		changed := RegistryConfig{
			Providers: map[string]ProviderConfig{
				"primary": {Type: MockClientName, Enabled: true, DefaultModel: "m2"},
			},
			Models: map[string]string{"m2": "primary"},
		}
		if err := r.Reload(ctx, changed); err != nil {
			t.Fatalf("Reload() error = %v", err)
		}
		again, _ := r.Get("primary")
		if again == first {
			t.Error("changed provider should be recreated")
		}
		if _, err := r.ForModel("m1"); err == nil {
			t.Error("m1 route should be gone after reload")
		}
		if _, err := r.ForModel("m2"); err != nil {
			t.Errorf("ForModel(m2) error = %v", err)
		}
	})

	t.Run("removed provider unregistered", func(t *testing.T) {
		if err := r.Reload(ctx, RegistryConfig{}); err != nil {
			t.Fatalf("Reload() error = %v", err)
		}
		if len(r.List()) != 0 {
			t.Errorf("List() = %v, want empty", r.List())
		}
	})

	t.Run("unknown type reported", func(t *testing.T) {
		bad := RegistryConfig{
			Providers: map[string]ProviderConfig{
				"weird": {Type: "carrier-pigeon", APIKey: "k", Enabled: true},
				"ok":    {Type: MockClientName, Enabled: true},
			},
		}
		if err := r.Reload(ctx, bad); err == nil {
			t.Error("expected error for unknown provider type")
		}
		if !r.Has("ok") {
			t.Error("valid providers should still register")
		}
	})
}

func TestRegistryConcurrency(t *testing.T) {
	r := NewRegistry()
	r.Register("mock", NewMockClient())
	r.RouteModel("m", "mock")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.ForModel("m")
			_ = r.List()
		}()
		go func() {
			defer wg.Done()
			r.RouteModel("m", "mock")
		}()
	}
	wg.Wait()
}

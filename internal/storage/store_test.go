package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dreamware/adag/internal/param"
)

var vecSpec = param.Spec{Name: "g/a", DType: param.Float64, Shape: []int{2}}

// TestMemoryStore tests the in-memory parameter store implementation
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		names, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(names) != 0 {
			t.Errorf("Expected empty store, got %d parameters", len(names))
		}

		_, err = store.Read(ctx, "nonexistent")
		if !errors.Is(err, ErrParameterNotFound) {
			t.Errorf("Expected ErrParameterNotFound, got %v", err)
		}

		step, _ := store.GlobalStep(ctx)
		if step != 0 {
			t.Errorf("Expected global step 0, got %d", step)
		}
	})

	t.Run("create declares zero value", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Create(ctx, vecSpec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		tensor, err := store.Read(ctx, vecSpec.Name)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !tensor.Spec.Equal(vecSpec) {
			t.Errorf("Expected spec %+v, got %+v", vecSpec, tensor.Spec)
		}
		for i, v := range tensor.Values {
			if v != 0 {
				t.Errorf("Expected zero at %d, got %v", i, v)
			}
		}
	})

	t.Run("create is idempotent for equal specs", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Create(ctx, vecSpec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := store.Assign(ctx, vecSpec.Name, []float64{1, 2}); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}

		if err := store.Create(ctx, vecSpec); err != nil {
			t.Fatalf("Second Create failed: %v", err)
		}

		// Existing value must survive a re-declaration
		tensor, _ := store.Read(ctx, vecSpec.Name)
		if tensor.Values[0] != 1 || tensor.Values[1] != 2 {
			t.Errorf("Expected [1 2] after re-declare, got %v", tensor.Values)
		}
	})

	t.Run("create rejects layout mismatch", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Create(ctx, vecSpec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		wrongShape := param.Spec{Name: vecSpec.Name, DType: param.Float64, Shape: []int{3}}
		if err := store.Create(ctx, wrongShape); !errors.Is(err, ErrSpecMismatch) {
			t.Errorf("Expected ErrSpecMismatch for shape, got %v", err)
		}

		wrongType := param.Spec{Name: vecSpec.Name, DType: param.Float32, Shape: []int{2}}
		if err := store.Create(ctx, wrongType); !errors.Is(err, ErrSpecMismatch) {
			t.Errorf("Expected ErrSpecMismatch for dtype, got %v", err)
		}
	})

	t.Run("create rejects invalid spec", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.Create(ctx, param.Spec{Name: "bad", DType: param.Float64})
		if !errors.Is(err, param.ErrInvalidSpec) {
			t.Errorf("Expected ErrInvalidSpec, got %v", err)
		}
	})

	t.Run("assign and apply update", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Create(ctx, vecSpec)

		if err := store.Assign(ctx, vecSpec.Name, []float64{10, 20}); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		if err := store.ApplyUpdate(ctx, vecSpec.Name, []float64{-1, 2}); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}

		tensor, _ := store.Read(ctx, vecSpec.Name)
		if tensor.Values[0] != 9 || tensor.Values[1] != 22 {
			t.Errorf("Expected [9 22], got %v", tensor.Values)
		}
		if store.Updates() != 1 {
			t.Errorf("Expected 1 update, got %d", store.Updates())
		}
	})

	t.Run("wrong length is rejected", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Create(ctx, vecSpec)

		if err := store.Assign(ctx, vecSpec.Name, []float64{1}); !errors.Is(err, param.ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch from Assign, got %v", err)
		}
		if err := store.ApplyUpdate(ctx, vecSpec.Name, []float64{1, 2, 3}); !errors.Is(err, param.ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch from ApplyUpdate, got %v", err)
		}
		if err := store.ApplyUpdate(ctx, "missing", []float64{1, 2}); !errors.Is(err, ErrParameterNotFound) {
			t.Errorf("Expected ErrParameterNotFound, got %v", err)
		}
	})

	t.Run("read returns a copy", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Create(ctx, vecSpec)
		_ = store.Assign(ctx, vecSpec.Name, []float64{1, 1})

		tensor, _ := store.Read(ctx, vecSpec.Name)
		tensor.Values[0] = 100

		again, _ := store.Read(ctx, vecSpec.Name)
		if again.Values[0] != 1 {
			t.Errorf("Store was modified through a read copy: %v", again.Values)
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		store := NewMemoryStore()
		for _, name := range []string{"g/c", "g/a", "g/b"} {
			_ = store.Create(ctx, vecSpec.Rename(name))
		}

		names, _ := store.List(ctx)
		want := []string{"g/a", "g/b", "g/c"}
		if len(names) != len(want) {
			t.Fatalf("Expected %d names, got %v", len(want), names)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
			}
		}
	})

	t.Run("initialization marker", func(t *testing.T) {
		store := NewMemoryStore()

		state, _ := store.Initialization(ctx)
		if state.Initialized {
			t.Errorf("New store should not be initialized")
		}

		_ = store.MarkInitialized(ctx, "run-1")
		state, _ = store.Initialization(ctx)
		if !state.Initialized || state.RunID != "run-1" {
			t.Errorf("Expected initialized run-1, got %+v", state)
		}
	})

	t.Run("stats", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Create(ctx, vecSpec)
		_ = store.Create(ctx, param.Spec{Name: "g/w", DType: param.Float32, Shape: []int{2, 3}})
		_, _ = store.IncrementGlobalStep(ctx)

		stats := store.Stats()
		if stats.Parameters != 2 {
			t.Errorf("Expected 2 parameters, got %d", stats.Parameters)
		}
		if stats.Elements != 8 {
			t.Errorf("Expected 8 elements, got %d", stats.Elements)
		}
		if stats.Step != 1 {
			t.Errorf("Expected step 1, got %d", stats.Step)
		}
	})
}

// TestMemoryStoreConcurrency tests that concurrent additive updates compose
func TestMemoryStoreConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Create(ctx, vecSpec)

	const workers = 8
	const pushes = 250

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < pushes; i++ {
				if err := store.ApplyUpdate(ctx, vecSpec.Name, []float64{1, -0.5}); err != nil {
					t.Errorf("ApplyUpdate failed: %v", err)
					return
				}
				if _, err := store.IncrementGlobalStep(ctx); err != nil {
					t.Errorf("IncrementGlobalStep failed: %v", err)
					return
				}
				if _, err := store.Read(ctx, vecSpec.Name); err != nil {
					t.Errorf("Read failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	tensor, _ := store.Read(ctx, vecSpec.Name)
	if tensor.Values[0] != workers*pushes {
		t.Errorf("Expected %d, got %v (updates were lost)", workers*pushes, tensor.Values[0])
	}
	if tensor.Values[1] != -0.5*workers*pushes {
		t.Errorf("Expected %v, got %v", -0.5*workers*pushes, tensor.Values[1])
	}

	step, _ := store.GlobalStep(ctx)
	if step != workers*pushes {
		t.Errorf("Expected global step %d, got %d", workers*pushes, step)
	}
}

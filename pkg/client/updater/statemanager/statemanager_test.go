package statemanager

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

// TestState is a simple type used for testing.
type TestState struct {
	Value int `json:"value"`
}

// TestCommitAndLoad verifies that Commit writes the state file correctly
// and Load returns the expected state.
func TestCommitAndLoad(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	mgr := New[TestState](afero.NewOsFs(), stateFile)

	if err := mgr.Commit(&TestState{Value: 42}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	loadedState, exists, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("Expected state to exist")
	}
	if loadedState.Value != 42 {
		t.Errorf("Expected state value 42, got %d", loadedState.Value)
	}
	if ok, _ := afero.Exists(afero.NewOsFs(), stateFile+".tmp"); ok {
		t.Error("temporary file was left behind")
	}
}

// TestLoadNonExistent verifies that a missing state file is reported as absent.
func TestLoadNonExistent(t *testing.T) {
	mgr := New[TestState](afero.NewMemMapFs(), "/ota/nonexistent.json")
	loadedState, exists, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists || loadedState != nil {
		t.Errorf("Expected no state, got %v", loadedState)
	}
}

// TestLoadEmptyFile verifies that an empty state file is treated like a missing one.
func TestLoadEmptyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/ota/empty.json", []byte(""), 0644)
	mgr := New[TestState](fs, "/ota/empty.json")
	_, exists, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Error("Expected empty file to be reported as absent")
	}
}

// TestLoadCorrupt verifies that undecodable content is surfaced instead of being ignored.
func TestLoadCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/ota/state.json", []byte("{not json"), 0644)
	mgr := New[TestState](fs, "/ota/state.json")
	_, _, err := mgr.Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}
	err = mgr.Modify(func(s *TestState) (*TestState, error) {
		t.Error("callback must not run on corrupt state")
		return s, nil
	})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt from Modify, got %v", err)
	}
}

// TestModify_Update verifies that Modify applies the callback modification
// and writes the updated state to disk.
func TestModify_Update(t *testing.T) {
	mgr := New[TestState](afero.NewMemMapFs(), "/ota/state.json")
	if err := mgr.Commit(&TestState{Value: 10}); err != nil {
		t.Fatalf("Initial Commit failed: %v", err)
	}
	if err := mgr.Modify(func(s *TestState) (*TestState, error) {
		s.Value += 5
		return s, nil
	}); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	loaded, _, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Value != 15 {
		t.Errorf("Expected Value 15, got %d", loaded.Value)
	}
}

// TestModify_Missing verifies that the callback sees nil and may decline to write.
func TestModify_Missing(t *testing.T) {
	fs := afero.NewMemMapFs()
	mgr := New[TestState](fs, "/ota/state.json")
	called := false
	if err := mgr.Modify(func(s *TestState) (*TestState, error) {
		called = true
		if s != nil {
			t.Errorf("Expected nil state, got %v", s)
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if !called {
		t.Error("callback was not called")
	}
	if ok, _ := afero.Exists(fs, "/ota/state.json"); ok {
		t.Error("state file was created although the callback returned nil")
	}
}

// TestModify_CallbackError verifies that if the callback returns an error,
// the state file remains unchanged.
func TestModify_CallbackError(t *testing.T) {
	mgr := New[TestState](afero.NewMemMapFs(), "/ota/state.json")
	if err := mgr.Commit(&TestState{Value: 20}); err != nil {
		t.Fatalf("Initial Commit failed: %v", err)
	}
	expectedErr := fmt.Errorf("callback error")
	err := mgr.Modify(func(s *TestState) (*TestState, error) {
		s.Value = 999
		return s, expectedErr
	})
	if !errors.Is(err, expectedErr) {
		t.Fatalf("Expected %v, got %v", expectedErr, err)
	}
	loaded, _, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Value != 20 {
		t.Errorf("Expected Value 20 (unchanged), got %d", loaded.Value)
	}
}

func TestClear(t *testing.T) {
	mgr := New[TestState](afero.NewMemMapFs(), "/ota/state.json")
	if err := mgr.Commit(&TestState{Value: 1}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, exists, _ := mgr.Load(); exists {
		t.Error("state still exists after Clear")
	}
	if err := mgr.Clear(); err != nil {
		t.Errorf("second Clear returned %v", err)
	}
}

func TestConcurrentModify(t *testing.T) {
	mgr := New[TestState](afero.NewOsFs(), filepath.Join(t.TempDir(), "state.json"))
	if err := mgr.Commit(&TestState{Value: 0}); err != nil {
		t.Fatalf("Initial Commit failed: %v", err)
	}

	numGoroutines := 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if err := mgr.Modify(func(s *TestState) (*TestState, error) {
				s.Value++
				return s, nil
			}); err != nil {
				t.Errorf("Modify failed: %v", err)
			}
		}()
	}
	wg.Wait()

	loaded, _, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Value != numGoroutines {
		t.Errorf("Expected final Value %d, got %d", numGoroutines, loaded.Value)
	}
}

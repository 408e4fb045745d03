package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	st, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := st.Save(ctx, doc{Name: "engine", Count: 3}); err != nil {
		t.Fatal(err)
	}

	var got doc
	if err := st.Load(ctx, &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "engine" || got.Count != 3 {
		t.Errorf("Load: got %+v, want {engine 3}", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	st, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	var got doc
	if err := st.Load(context.Background(), &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load on missing file: got %v, want ErrNotFound", err)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{torn"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	var got doc
	if err := st.Load(context.Background(), &got); err == nil {
		t.Error("Load on corrupt file: expected parse error")
	}
}

func TestSave_ReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := st.Save(ctx, doc{Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(ctx, doc{Count: 2}); err != nil {
		t.Fatal(err)
	}

	var got doc
	if err := st.Load(ctx, &got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 2 {
		t.Errorf("Count = %d, want 2", got.Count)
	}

	// No temp residue left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after Save")
	}
}

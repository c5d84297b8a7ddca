package state

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/pfirsich/dgml/vm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "env.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveLoad(t *testing.T) {
	store := testStore(t)

	src := testVM(t)
	if !src.SetEnvValue("coins", vm.IntValue(99)) {
		t.Fatal("seeding env failed")
	}
	if err := store.Save("slot1", src); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	dst := testVM(t)
	if err := store.Load("slot1", dst); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if v := dst.EnvValue("coins"); v.I != 99 {
		t.Errorf("coins = %v, want 99", v)
	}
}

func TestStoreLoadMissingSlot(t *testing.T) {
	store := testStore(t)
	if err := store.Load("nope", testVM(t)); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("err = %v, want ErrSlotNotFound", err)
	}
}

func TestStoreOverwriteSlot(t *testing.T) {
	store := testStore(t)
	m := testVM(t)

	m.SetEnvValue("coins", vm.IntValue(1))
	if err := store.Save("slot", m); err != nil {
		t.Fatal(err)
	}
	m.SetEnvValue("coins", vm.IntValue(2))
	if err := store.Save("slot", m); err != nil {
		t.Fatal(err)
	}

	dst := testVM(t)
	if err := store.Load("slot", dst); err != nil {
		t.Fatal(err)
	}
	if v := dst.EnvValue("coins"); v.I != 2 {
		t.Errorf("coins = %v, want 2", v)
	}
}

func TestStoreSlotsAndDelete(t *testing.T) {
	store := testStore(t)
	m := testVM(t)

	for _, slot := range []string{"b", "a"} {
		if err := store.Save(slot, m); err != nil {
			t.Fatal(err)
		}
	}

	slots, err := store.Slots()
	if err != nil {
		t.Fatalf("Slots error: %v", err)
	}
	if len(slots) != 2 || slots[0] != "a" || slots[1] != "b" {
		t.Errorf("slots = %v, want [a b]", slots)
	}

	if err := store.Delete("a"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := store.Delete("a"); err != nil {
		t.Errorf("double delete errored: %v", err)
	}
	slots, err = store.Slots()
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 1 || slots[0] != "b" {
		t.Errorf("slots = %v, want [b]", slots)
	}
}

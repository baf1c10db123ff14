package nbd

import "testing"

func TestNewRegistryRejectsEmptyName(t *testing.T) {
	_, err := NewRegistry(Export{Name: ""})
	if err == nil {
		t.Fatal("expected error for empty export name")
	}
}

func TestNewRegistryRejectsDuplicateName(t *testing.T) {
	_, err := NewRegistry(Export{Name: "a"}, Export{Name: "a"})
	if err == nil {
		t.Fatal("expected error for duplicate export name")
	}
}

func TestNewRegistryRejectsOversizedName(t *testing.T) {
	name := make([]byte, 256)
	for i := range name {
		name[i] = 'x'
	}
	_, err := NewRegistry(Export{Name: string(name)})
	if err == nil {
		t.Fatal("expected error for oversized export name")
	}
}

func TestNewRegistryRejectsNULName(t *testing.T) {
	_, err := NewRegistry(Export{Name: "a\x00b"})
	if err == nil {
		t.Fatal("expected error for export name containing NUL")
	}
}

func TestRegistryLookupByName(t *testing.T) {
	r, err := NewRegistry(Export{Name: "disk1", Size: 512}, Export{Name: "disk2", Size: 1024})
	if err != nil {
		t.Fatal(err)
	}
	e, ok := r.Lookup("disk2")
	if !ok || e.Size != 1024 {
		t.Fatalf("Lookup(%q) = %+v, %v", "disk2", e, ok)
	}
	if _, ok := r.Lookup("nonexistent"); ok {
		t.Fatal("Lookup of unknown name should fail")
	}
}

func TestRegistryDefaultIsFirstExportWhenNoneNamedDefault(t *testing.T) {
	r, err := NewRegistry(Export{Name: "disk1", Size: 512}, Export{Name: "disk2", Size: 1024})
	if err != nil {
		t.Fatal(err)
	}
	e, ok := r.Lookup("")
	if !ok || e.Name != "disk1" {
		t.Fatalf("Lookup(\"\") = %+v, %v, want disk1", e, ok)
	}
}

func TestRegistryDefaultPrefersExplicitlyNamedDefault(t *testing.T) {
	r, err := NewRegistry(Export{Name: "disk1", Size: 512}, Export{Name: defaultExportName, Size: 2048})
	if err != nil {
		t.Fatal(err)
	}
	e, ok := r.Lookup("")
	if !ok || e.Name != defaultExportName || e.Size != 2048 {
		t.Fatalf("Lookup(\"\") = %+v, %v, want %s", e, ok, defaultExportName)
	}
}

func TestRegistryNamesPreservesRegistrationOrder(t *testing.T) {
	r, err := NewRegistry(Export{Name: "c"}, Export{Name: "a"}, Export{Name: "b"})
	if err != nil {
		t.Fatal(err)
	}
	names := r.Names()
	want := []string{"c", "a", "b"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}

func TestExportFlags(t *testing.T) {
	ro := Export{ReadOnly: true}
	if f := ro.flags(); f != 1|2 {
		t.Fatalf("read-only flags = %d, want 3", f)
	}
	rw := Export{ReadOnly: false}
	if f := rw.flags(); f != 1 {
		t.Fatalf("read-write flags = %d, want 1", f)
	}
}

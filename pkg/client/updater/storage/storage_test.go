package storage

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(afero.NewMemMapFs(), NewLayout("/data", ""))
}

func TestLayout(t *testing.T) {
	l := NewLayout("/data", "")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "root", got: l.Root(), want: "/data/ota"},
		{name: "current", got: l.Current(), want: "/data/ota/current"},
		{name: "previous", got: l.Previous(), want: "/data/ota/previous"},
		{name: "temp", got: l.Temp(), want: "/data/ota/temp"},
		{name: "archive", got: l.Archive(), want: "/data/ota/update.zip"},
		{name: "metadata", got: l.Metadata(), want: "/data/ota/meta.json"},
		{name: "entry point", got: l.EntryPoint(l.Current()), want: "/data/ota/current/index.bundle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != filepath.FromSlash(tt.want) {
				t.Errorf("got %q, want %q", tt.got, filepath.FromSlash(tt.want))
			}
		})
	}
	if NewLayout("/data", "main.jsbundle").EntryPointName() != "main.jsbundle" {
		t.Error("custom entry point was not kept")
	}
}

func TestManager_EnsureDirs_Idempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(m.Layout().Current(), "index.bundle")
	if err := afero.WriteFile(m.Fs(), marker, []byte("bundle"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureDirs(); err != nil {
		t.Fatalf("second EnsureDirs failed: %v", err)
	}
	for _, dir := range []string{m.Layout().Root(), m.Layout().Current(), m.Layout().Previous()} {
		if ok, err := afero.DirExists(m.Fs(), dir); err != nil || !ok {
			t.Errorf("expected directory %q to exist", dir)
		}
	}
	if ok, _ := afero.Exists(m.Fs(), marker); !ok {
		t.Error("EnsureDirs modified existing content")
	}
	if ok, _ := afero.Exists(m.Fs(), m.Layout().Temp()); ok {
		t.Error("EnsureDirs must not create the staging directory")
	}
}

func TestManager_MoveReplace(t *testing.T) {
	m := newTestManager(t)
	fs := m.Fs()
	_ = fs.MkdirAll("/src", 0755)
	_ = fs.MkdirAll("/dest", 0755)
	_ = afero.WriteFile(fs, "/src/a.txt", []byte("new"), 0644)
	_ = afero.WriteFile(fs, "/dest/b.txt", []byte("old"), 0644)

	if err := m.MoveReplace("/src", "/dest"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.Exists(fs, "/dest/a.txt"); !ok {
		t.Error("source content was not moved")
	}
	if ok, _ := afero.Exists(fs, "/dest/b.txt"); ok {
		t.Error("old destination content survived")
	}
	if ok, _ := afero.Exists(fs, "/src"); ok {
		t.Error("source still exists")
	}
}

func TestManager_RemoveMissing(t *testing.T) {
	m := newTestManager(t)
	if err := m.Remove("/data/ota/never-created"); err != nil {
		t.Errorf("Remove() of a missing path returned %v", err)
	}
}

func TestManager_HasEntryPoint(t *testing.T) {
	m := newTestManager(t)
	dir := m.Layout().Current()
	if err := m.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		content []byte
		create  bool
		want    bool
	}{
		{name: "missing", create: false, want: false},
		{name: "empty", create: true, content: []byte{}, want: false},
		{name: "present", create: true, content: []byte("bundle"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = m.Remove(m.Layout().EntryPoint(dir))
			if tt.create {
				if err := afero.WriteFile(m.Fs(), m.Layout().EntryPoint(dir), tt.content, 0644); err != nil {
					t.Fatal(err)
				}
			}
			got, err := m.HasEntryPoint(dir)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("HasEntryPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManager_Wipe(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	if err := m.Wipe(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.Exists(m.Fs(), m.Layout().Root()); ok {
		t.Error("OTA root still exists after Wipe")
	}
	if err := m.Wipe(); err != nil {
		t.Errorf("second Wipe returned %v", err)
	}
}

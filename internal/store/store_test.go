package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiftycal/internal/ics"
)

func sampleCalendar() *ics.Calendar {
	return &ics.Calendar{
		Properties: []ics.Property{ics.NewProperty("VERSION", "2.0"), ics.NewProperty("PRODID", "-//test//EN")},
		Events: []*ics.Event{ics.NewEvent(
			ics.NewProperty("UID", "u1"),
			ics.NewProperty("DTSTART", "20240105T090000Z"),
			ics.NewProperty("SUMMARY", "Dentist, 2nd floor"),
		)},
	}
}

func TestLoadAbsent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))
	cal, ok, err := s.Load("home")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, cal)

	labels, err := s.Labels()
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cals")
	s := New(dir)
	want := sampleCalendar()

	require.NoError(t, s.Save("home", want))
	assert.Equal(t, filepath.Join(dir, "home.ics"), s.Path("home"))

	info, err := os.Stat(s.Path("home"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	got, ok, err := s.Load("home")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Events, 1)
	assert.True(t, want.Events[0].Equal(got.Events[0]))
	assert.Equal(t, "Dentist, 2nd floor", got.Events[0].Summary())

	raw, err := s.Read("home")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "SUMMARY:Dentist\\, 2nd floor\r\n")
}

func TestSaveOverwritesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save("home", sampleCalendar()))

	updated := sampleCalendar()
	updated.Events = append(updated.Events, ics.NewEvent(ics.NewProperty("UID", "u2")))
	require.NoError(t, s.Save("home", updated))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")

	got, _, err := s.Load("home")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, got.UIDs())
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "home.ics"), []byte("garbage"), 0o644))

	_, ok, err := New(dir).Load("home")
	assert.False(t, ok)
	var pe *ics.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestLabels(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save("work", sampleCalendar()))
	require.NoError(t, s.Save("home", sampleCalendar()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.ics"), 0o755))

	labels, err := s.Labels()
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "work"}, labels)
}

func TestInvalidLabels(t *testing.T) {
	s := New(t.TempDir())
	for _, label := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, s.Save(label, sampleCalendar()), label)
		_, _, err := s.Load(label)
		assert.Error(t, err, label)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiftycal/internal/config"
	"fiftycal/internal/download"
	"fiftycal/internal/ics"
	"fiftycal/internal/model"
)

func icsText(lines ...string) string {
	return strings.Join(append(append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...), "END:VCALENDAR"), "\r\n") + "\r\n"
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var (
	localCal = icsText(
		"BEGIN:VEVENT", "UID:u1", "DTSTART:20240105T090000Z", "SUMMARY:Dentist",
		"LAST-MODIFIED:20240101T000000Z", "SEQUENCE:1", "END:VEVENT",
		"BEGIN:VEVENT", "UID:u2", "DTSTART:20240106T090000Z", "SUMMARY:Local only", "END:VEVENT",
	)
	remoteCal = icsText(
		"BEGIN:VEVENT", "UID:u1", "DTSTART:20240105T110000Z", "SUMMARY:Dentist (moved)",
		"LAST-MODIFIED:20240103T000000Z", "SEQUENCE:2", "END:VEVENT",
		"BEGIN:VEVENT", "UID:u3", "DTSTART:20240107T090000Z", "SUMMARY:Remote only", "END:VEVENT",
	)
)

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ics", localCal)
	b := writeFile(t, dir, "b.ics", remoteCal)

	out, err := run(t, "diff", a, b, "--json")
	require.NoError(t, err)

	var got struct {
		Counts struct {
			OnlyInA   int `json:"only_in_a"`
			OnlyInB   int `json:"only_in_b"`
			Conflicts int `json:"conflicts"`
		} `json:"counts"`
		Differences []diffRecord `json:"differences"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.Counts.OnlyInA)
	assert.Equal(t, 1, got.Counts.OnlyInB)
	assert.Equal(t, 1, got.Counts.Conflicts)
	require.Len(t, got.Differences, 3)
	assert.Equal(t, "conflict", got.Differences[0].Kind)
	assert.Equal(t, "20240103T000000Z", got.Differences[0].ModifiedB)

	out, err = run(t, "diff", a, a)
	require.NoError(t, err)
	assert.Equal(t, "no differences\n", out)
}

func TestDiffCommandIgnoresSequence(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ics", icsText("BEGIN:VEVENT", "UID:u1", "SUMMARY:x", "SEQUENCE:3", "END:VEVENT"))
	b := writeFile(t, dir, "b.ics", icsText("BEGIN:VEVENT", "UID:u1", "SUMMARY:x", "SEQUENCE:4", "END:VEVENT"))

	out, err := run(t, "diff", a, b)
	require.NoError(t, err)
	assert.Equal(t, "no differences\n", out)

	out, err = run(t, "diff", "--raw", a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "conflict")
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ics", localCal)
	b := writeFile(t, dir, "b.ics", remoteCal)
	outPath := filepath.Join(dir, "merged.ics")

	_, err := run(t, "merge", a, b, "-o", outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	merged, err := ics.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3", "u2"}, merged.UIDs())
	assert.Equal(t, "Dentist (moved)", merged.Events[0].Summary())

	out, err := run(t, "merge", a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
}

func TestMergeCommandRejectAmbiguous(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ics", icsText("BEGIN:VEVENT", "UID:u1", "SUMMARY:A", "END:VEVENT"))
	b := writeFile(t, dir, "b.ics", icsText("BEGIN:VEVENT", "UID:u1", "SUMMARY:B", "END:VEVENT"))

	_, err := run(t, "merge", a, b, "--tie-policy", "reject")
	assert.Error(t, err)

	_, err = run(t, "merge", a, b, "--tie-policy", "dice")
	assert.Error(t, err)
}

func TestDiffCommandBadInput(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ics", "not a calendar")
	b := writeFile(t, dir, "b.ics", remoteCal)

	_, err := run(t, "diff", a, b)
	var pe *ics.ParseError
	assert.True(t, errors.As(err, &pe))

	_, err = run(t, "diff", a)
	assert.Error(t, err)
}

func TestDownloadFailsFastOnMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fiftycal.yaml")

	_, err := run(t, "--config", path, "download")
	var ce *config.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, config.KeyUsername, ce.Key)
	assert.FileExists(t, path, "a template is written on first run")
}

func TestAgendaCommand(t *testing.T) {
	dir := t.TempDir()
	calDir := filepath.Join(dir, "cals")
	require.NoError(t, os.MkdirAll(calDir, 0o755))

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	start := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 10, 0, 0, 0, time.UTC)
	writeFile(t, calDir, "home.ics", icsText(
		"BEGIN:VEVENT", "UID:u1",
		"DTSTART:"+ics.FormatUTC(start),
		"DTEND:"+ics.FormatUTC(start.Add(time.Hour)),
		"SUMMARY:Dentist", "END:VEVENT",
	))

	cfgPath := writeFile(t, dir, "fiftycal.toml", `
username = "alice"
password = "pw"
calendar_url = "https://mail.example.com/"
output_path = "`+calDir+`"

[cal_ids]
home = "abc"
`)

	out, err := run(t, "--config", cfgPath, "agenda", "--days", "3", "--tz", "UTC")
	require.NoError(t, err)
	assert.Contains(t, out, "10:00-11:00  Dentist  [home]")
}

func TestSelectLabels(t *testing.T) {
	ids := map[string]string{"home": "a", "work": "b"}

	got, err := selectLabels(ids, nil)
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	got, err = selectLabels(ids, []string{"work"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"work": "b"}, got)

	_, err = selectLabels(ids, []string{"work", "gym"})
	assert.ErrorContains(t, err, "gym")
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []model.Result{
		{Label: "home", Action: model.ActionMerged, Events: 4, Added: 1, Path: "/cals/home.ics"},
		{Label: "work", Action: model.ActionFailed, Kind: "unauthorized", Error: "download: unauthorized", Err: download.ErrUnauthorized},
	})
	out := buf.String()
	assert.Contains(t, out, "LABEL")
	assert.Contains(t, out, "/cals/home.ics")
	assert.Contains(t, out, "unauthorized: download: unauthorized")

	buf.Reset()
	printResults(&buf, nil)
	assert.Empty(t, buf.String())
}

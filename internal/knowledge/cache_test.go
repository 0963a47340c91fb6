package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var goodRecord = Record{
	Title:    "Kfz-Zulassungsstelle Wildeshausen",
	Content:  "Die Zulassungsstelle des Landkreises Oldenburg bearbeitet An-, Um- und Abmeldungen von Fahrzeugen.",
	URL:      "https://www.oldenburg-kreis.de/zulassung",
	Category: "kfz_zulassung",
}

func writeDataset(t *testing.T, dir, name string, records any, mod time.Time) string {
	t.Helper()
	data, err := json.Marshal(records)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestReloadEmptyDirServesDefaults(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir(), nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	for _, agent := range KnownAgents() {
		ds, ok := c.Get(agent)
		require.True(t, ok, agent)
		assert.True(t, ds.Default)
		require.NotEmpty(t, ds.Records)
		assert.False(t, ds.Records[0].Usable(), "default records never pass the quality bar")
	}
}

func TestReloadMissingDirServesDefaults(t *testing.T) {
	t.Parallel()

	c := NewCache(filepath.Join(t.TempDir(), "nope"), nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	ds, ok := c.Get(DefaultAgent)
	require.True(t, ok)
	assert.True(t, ds.Default)
}

func TestReloadPicksNewestByModTime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	older := goodRecord
	older.Title = "Alte Zulassungsinformationen"
	// The file name date is older but the modification time is newer.
	newest := writeDataset(t, dir, "buergerdienste_data_2024-01-01.json", []Record{goodRecord}, base.Add(10*time.Minute))
	writeDataset(t, dir, "buergerdienste_data_2025-01-01.json", []Record{older}, base)

	c := NewCache(dir, nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	ds, ok := c.Get("buergerdienste")
	require.True(t, ok)
	assert.False(t, ds.Default)
	assert.Equal(t, newest, ds.SourcePath)
	assert.Equal(t, goodRecord.Title, ds.Records[0].Title)
}

func TestReloadFallsBackToOlderCandidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	good := writeDataset(t, dir, "jugend_data_2025-01-01.json", []Record{goodRecord}, base)
	broken := filepath.Join(dir, "jugend_data_2025-01-02.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o644))
	require.NoError(t, os.Chtimes(broken, base.Add(time.Minute), base.Add(time.Minute)))

	c := NewCache(dir, nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	ds, _ := c.Get("jugend")
	assert.Equal(t, good, ds.SourcePath)
	assert.Equal(t, uint64(1), c.Stats().Failures)
}

func TestReloadIsolatesBrokenAgent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "soziales_data_2025-01-01.json"), []byte("[{"), 0o644))
	writeDataset(t, dir, "ratsinfo_data_2025-01-01.json", []Record{goodRecord}, now)

	c := NewCache(dir, nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	soz, _ := c.Get("soziales")
	assert.True(t, soz.Default)
	rat, _ := c.Get("ratsinfo")
	assert.False(t, rat.Default)
}

func TestReloadIgnoresAggregateAndForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	writeDataset(t, dir, "all_agents_data_2025-01-01.json", []Record{goodRecord}, now)
	writeDataset(t, dir, "notes.json", []Record{goodRecord}, now)
	writeDataset(t, dir, "tourismus_data_2025-01-01.json", []Record{goodRecord}, now)

	c := NewCache(dir, nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	_, ok := c.Get("all_agents")
	assert.False(t, ok)
	_, ok = c.Get("notes")
	assert.False(t, ok)
	ds, ok := c.Get("tourismus")
	require.True(t, ok, "agents without defaults are served from files")
	assert.Len(t, ds.Records, 1)
}

func TestRecordAcceptsLegacyLink(t *testing.T) {
	t.Parallel()

	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Titel","content":"x","link":"https://a.example"}`), &r))
	assert.Equal(t, "https://a.example", r.URL)

	require.NoError(t, json.Unmarshal([]byte(`{"url":"https://b.example","link":"https://a.example"}`), &r))
	assert.Equal(t, "https://b.example", r.URL)
}

func TestRecordUsable(t *testing.T) {
	t.Parallel()

	assert.True(t, goodRecord.Usable())

	noURL := goodRecord
	noURL.URL = "/relative"
	assert.False(t, noURL.Usable())

	shortTitle := goodRecord
	shortTitle.Title = "Zulassung"
	assert.False(t, shortTitle.Usable())

	shortContent := goodRecord
	shortContent.Content = "Kurz."
	assert.False(t, shortContent.Usable())
}

func TestReloadGuardDropsConcurrentReload(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir(), nil)
	c.reloading.Store(true)
	_, err := c.Reload(context.Background())
	assert.ErrorIs(t, err, ErrReloadInProgress)

	c.reloading.Store(false)
	_, err = c.Reload(context.Background())
	assert.NoError(t, err)
}

func TestSubscribeReceivesChangedAgents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCache(dir, nil)
	events, cancel := c.Subscribe()
	defer cancel()

	writeDataset(t, dir, "kontakte_data_2025-01-01.json", []Record{goodRecord}, time.Now())
	ev, err := c.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"kontakte"}, ev.Changed)

	select {
	case got := <-events:
		assert.Equal(t, ev.Changed, got.Changed)
	case <-time.After(time.Second):
		t.Fatal("no reload event received")
	}

	// Reloading unchanged files publishes nothing.
	ev, err = c.Reload(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ev.Changed)
	select {
	case <-events:
		t.Fatal("unexpected event for unchanged reload")
	default:
	}
}

func TestStaleDetectsNewFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCache(dir, nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	stale, err := c.Stale()
	require.NoError(t, err)
	assert.False(t, stale)

	writeDataset(t, dir, "kaya_data_2025-01-01.json", []Record{goodRecord}, time.Now())
	stale, err = c.Stale()
	require.NoError(t, err)
	assert.True(t, stale)

	c.PollOnce(context.Background())
	ds, _ := c.Get("kaya")
	assert.False(t, ds.Default)
}

func TestAgentsStatus(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDataset(t, dir, "stellenportal_data_2025-01-01.json", []Record{goodRecord, {Title: "x"}}, time.Now())
	c := NewCache(dir, nil)
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	statuses := c.Agents()
	require.Len(t, statuses, len(KnownAgents()))
	for i := 1; i < len(statuses); i++ {
		assert.Less(t, statuses[i-1].Agent, statuses[i].Agent)
	}
	for _, s := range statuses {
		if s.Agent == "stellenportal" {
			assert.Equal(t, 2, s.Records)
			assert.Equal(t, 1, s.Usable)
			assert.False(t, s.Default)
		}
	}
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	c := NewCache(dir, nil)
	w, err := NewWatcher(dir, c, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeDataset(t, dir, "soziales_data_2025-02-01.json", []Record{goodRecord}, time.Now())
	require.Eventually(t, func() bool {
		ds, _ := c.Get("soziales")
		return !ds.Default
	}, 3*time.Second, 20*time.Millisecond)

	triggered, _ := w.Counts()
	assert.GreaterOrEqual(t, triggered, 1)
}

func TestWatcherIgnoresForeignFiles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	c := NewCache(dir, nil)
	w, err := NewWatcher(dir, c, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	w.Stop()

	triggered, dropped := w.Counts()
	assert.Zero(t, triggered)
	assert.Zero(t, dropped)
}

func TestReloadLoadsAgentWithoutDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDataset(t, dir, "buergerdienste_data_2025-01-01.json", []Record{goodRecord}, time.Now())
	writeDataset(t, dir, "abfallberatung_data_2025-01-01.json", []Record{goodRecord}, time.Now())

	var logs bytes.Buffer
	c := NewCache(dir, slog.New(slog.NewTextHandler(&logs, nil)))
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	assert.False(t, IsKnownAgent("abfallberatung"))
	ds, ok := c.Get("abfallberatung")
	require.True(t, ok)
	assert.False(t, ds.Default)
	assert.Len(t, c.Agents(), len(KnownAgents())+1)

	out := logs.String()
	assert.Contains(t, out, "agent=abfallberatung")
	assert.NotContains(t, out, "agent=buergerdienste")
}

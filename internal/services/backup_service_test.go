package services

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdelr/winepair-be/internal/models"
)

func sampleWines() []models.Document {
	return []models.Document{
		{"id": "w1", "name": "Château Margaux", "vintage": int64(2015), "price": 899.5, "grapes": []any{"Cabernet Sauvignon", "Merlot"}},
		{"id": "w2", "name": "Barolo", "vintage": int64(2018), "region": map[string]any{"country": "Italy", "zone": "Piemonte"}},
		{"id": "w3", "name": "Grüner Veltliner", "vintage": int64(2021), "organic": true, "notes": nil},
	}
}

func TestRunOnce_WinesAndEmptyDishes(t *testing.T) {
	env := newTestEnv(t, []string{"wines", "dishes"})
	env.store.set("wines", sampleWines()...)
	env.store.set("dishes")

	report, err := env.service.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	wines := report.Results[0]
	assert.Equal(t, "wines", wines.Collection)
	assert.Equal(t, models.ExportStatusWritten, wines.Status)
	require.NotNil(t, wines.Record)
	assert.Equal(t, 3, wines.Record.DocumentCount)
	assert.Equal(t, "wines_2026-10-17T12-00-00.000Z.json", wines.Record.FileName)

	dishes := report.Results[1]
	assert.Equal(t, models.ExportStatusEmpty, dishes.Status)
	assert.Nil(t, dishes.Record)

	assert.Equal(t, []string{"wines_2026-10-17T12-00-00.000Z.json"}, env.files(t, "wines"))
	assert.Empty(t, env.files(t, "dishes"))

	data, err := os.ReadFile(wines.Record.Path)
	require.NoError(t, err)
	var written []map[string]any
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Len(t, written, 3)

	env.store.set("wines")
	result, err := env.service.Restore(context.Background(), "wines", wines.Record.FileName)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Inserted)
	assert.ElementsMatch(t, sampleWines(), env.store.docs("wines"))

	assert.Equal(t, []string{"backup.create", "backup.restore"}, env.events.types())
}

func TestRunOnce_RoundTripStripsInternalID(t *testing.T) {
	env := newTestEnv(t, []string{"grapes"})
	env.store.set("grapes",
		models.Document{"_id": "65f0c0ffee", "id": "g1", "name": "Nebbiolo"},
		models.Document{"id": "g2", "name": "Riesling", "aliases": []any{"Rheinriesling"}},
	)

	report, err := env.service.RunOnce(context.Background())
	require.NoError(t, err)
	record := report.Results[0].Record
	require.NotNil(t, record)
	assert.Equal(t, 2, record.DocumentCount)

	data, err := os.ReadFile(record.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "_id")
	assert.Contains(t, env.store.docs("grapes")[0], "_id", "source documents are not modified")

	result, err := env.service.Restore(context.Background(), "grapes", record.FileName)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Deleted)
	assert.Equal(t, int64(2), result.Inserted)
	assert.ElementsMatch(t, []models.Document{
		{"id": "g1", "name": "Nebbiolo"},
		{"id": "g2", "name": "Riesling", "aliases": []any{"Rheinriesling"}},
	}, env.store.docs("grapes"))
}

func TestRunOnce_DatesAndDecimalsRestoreAsStrings(t *testing.T) {
	env := newTestEnv(t, []string{"wines"})
	addedAt := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	env.store.set("wines", models.Document{"id": "w1", "addedAt": addedAt, "price": "12.50", "vintage": int64(2019)})

	report, err := env.service.RunOnce(context.Background())
	require.NoError(t, err)
	record := report.Results[0].Record
	require.NotNil(t, record)

	data, err := os.ReadFile(record.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"addedAt": "2026-10-17T08:30:00Z"`)

	_, err = env.service.Restore(context.Background(), "wines", record.FileName)
	require.NoError(t, err)
	assert.Equal(t, []models.Document{
		{"id": "w1", "addedAt": "2026-10-17T08:30:00Z", "price": "12.50", "vintage": int64(2019)},
	}, env.store.docs("wines"))
}

func TestRunOnce_FailureIsolation(t *testing.T) {
	env := newTestEnv(t, []string{"missing", "broken", "unlisted", "wines"})
	env.store.set("broken", models.Document{"id": "b1", "score": math.NaN()})
	env.store.set("unlisted")
	env.store.listErrs["unlisted"] = errors.New("connection reset")
	env.store.set("wines", sampleWines()...)

	report, err := env.service.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 4)

	assert.Equal(t, models.ExportStatusFailed, report.Results[0].Status)
	assert.Equal(t, string(ExportCollectionUnavailable), report.Results[0].ErrorKind)
	assert.Equal(t, models.ExportStatusFailed, report.Results[1].Status)
	assert.Equal(t, string(ExportSerialization), report.Results[1].ErrorKind)
	assert.Equal(t, string(ExportCollectionUnavailable), report.Results[2].ErrorKind)
	assert.Contains(t, report.Results[2].Error, "connection reset")
	assert.Equal(t, models.ExportStatusWritten, report.Results[3].Status)

	assert.Len(t, report.Failed(), 3)
	assert.Empty(t, env.files(t, "broken"))
	assert.Len(t, env.files(t, "wines"), 1)
	assert.Equal(t, []string{"backup.fail", "backup.fail", "backup.fail", "backup.create"}, env.events.types())
}

func TestRunOnce_WriteErrorIsIsolated(t *testing.T) {
	env := newTestEnv(t, []string{"dishes", "wines"})
	env.store.set("dishes", models.Document{"id": "d1", "name": "Risotto"})
	env.store.set("wines", sampleWines()...)

	// A regular file where the collection directory should be.
	require.NoError(t, os.MkdirAll(env.dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "dishes"), []byte("x"), 0o644))

	report, err := env.service.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(ExportWrite), report.Results[0].ErrorKind)
	assert.Equal(t, models.ExportStatusWritten, report.Results[1].Status)
}

func TestRunOnce_BackupDirUnusable(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	env := newTestEnv(t, []string{"wines"}, func(o *BackupOptions) { o.Dir = filepath.Join(blocker, "backups") })
	env.store.set("wines", sampleWines()...)

	_, err := env.service.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnce_CancelledContext(t *testing.T) {
	env := newTestEnv(t, []string{"wines"})
	env.store.set("wines", sampleWines()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.service.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, env.files(t, "wines"))
}

func TestRunOnce_KeepsUnicodeAndHTMLUnescaped(t *testing.T) {
	env := newTestEnv(t, []string{"dishes"})
	env.store.set("dishes", models.Document{"id": "d1", "name": "Crème brûlée", "tags": "<sweet> & rich", "emoji": "🍷"})

	report, err := env.service.RunOnce(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(report.Results[0].Record.Path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "[\n"))
	assert.Contains(t, content, "Crème brûlée")
	assert.Contains(t, content, "<sweet> & rich")
	assert.Contains(t, content, "🍷")
	assert.NotContains(t, content, `\u00`)
}

func TestRunOnce_AppliesRetention(t *testing.T) {
	env := newTestEnv(t, []string{"wines"}, func(o *BackupOptions) {
		o.Retention = models.RetentionPolicy{KeepLast: 2, MinKeep: 1}
	})
	env.store.set("wines", sampleWines()...)

	for i := 0; i < 3; i++ {
		report, err := env.service.RunOnce(context.Background())
		require.NoError(t, err)
		if i < 2 {
			assert.Empty(t, report.Pruned)
		} else {
			require.Len(t, report.Pruned, 1)
			assert.Equal(t, "wines_2026-10-17T12-00-00.000Z.json", report.Pruned[0].FileName)
		}
		env.clock.Advance(time.Hour)
	}

	assert.Equal(t, []string{
		"wines_2026-10-17T13-00-00.000Z.json",
		"wines_2026-10-17T14-00-00.000Z.json",
	}, env.files(t, "wines"))
	assert.Contains(t, env.events.types(), "backup.prune")
}

func TestRestore_MissingFile(t *testing.T) {
	env := newTestEnv(t, []string{"wines"})
	env.store.set("wines", sampleWines()...)

	_, err := env.service.Restore(context.Background(), "wines", "wines_2020-01-01T00-00-00.000Z.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Equal(t, 0, env.store.deleteCalls)
	assert.ElementsMatch(t, sampleWines(), env.store.docs("wines"))
}

func TestRestore_InvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"object", `{"id": "w1"}`},
		{"null", `null`},
		{"scalar", `"wines"`},
		{"array of scalars", `[1, 2, 3]`},
		{"mixed array", `[{"id": "w1"}, 3]`},
		{"nested array", `[[{"id": "w1"}]]`},
		{"truncated", `[{"id": "w1",`},
		{"trailing data", `[{"id": "w1"}] [{"id": "w2"}]`},
		{"empty file", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, []string{"wines"})
			env.store.set("wines", sampleWines()...)
			name := env.writeFixture(t, "wines", testEpoch, tt.content)

			_, err := env.service.Restore(context.Background(), "wines", name)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)
			assert.Equal(t, 0, env.store.deleteCalls)
			assert.Equal(t, 0, env.store.insertCalls)
			assert.ElementsMatch(t, sampleWines(), env.store.docs("wines"))
		})
	}
}

func TestRestore_NormalizesDocuments(t *testing.T) {
	env := newTestEnv(t, []string{"pairings"})
	name := env.writeFixture(t, "pairings", testEpoch,
		`[{"_id": "abc", "id": "p1", "score": 9, "ratio": 0.75, "big": 1e3, "detail": {"rank": 2, "_id": "kept"}}]`)

	result, err := env.service.Restore(context.Background(), "pairings", name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Inserted)
	assert.Equal(t, name, result.FileName)
	assert.Equal(t, []models.Document{{
		"id":     "p1",
		"score":  int64(9),
		"ratio":  0.75,
		"big":    float64(1000),
		"detail": map[string]any{"rank": int64(2), "_id": "kept"},
	}}, env.store.docs("pairings"))
}

func TestRestore_EmptyArray(t *testing.T) {
	env := newTestEnv(t, []string{"posts"})
	env.store.set("posts", models.Document{"id": "p1"})
	name := env.writeFixture(t, "posts", testEpoch, `[]`)

	result, err := env.service.Restore(context.Background(), "posts", name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deleted)
	assert.Equal(t, int64(0), result.Inserted)
	assert.Empty(t, env.store.docs("posts"))
}

func TestRestore_WithoutClear(t *testing.T) {
	env := newTestEnv(t, []string{"users"}, func(o *BackupOptions) { o.ClearBeforeRestore = false })
	env.store.set("users", models.Document{"id": "u1"})
	name := env.writeFixture(t, "users", testEpoch, `[{"id": "u2"}]`)

	result, err := env.service.Restore(context.Background(), "users", name)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Deleted)
	assert.Equal(t, 0, env.store.deleteCalls)
	assert.ElementsMatch(t, []models.Document{{"id": "u1"}, {"id": "u2"}}, env.store.docs("users"))
}

func TestRestore_FromPath(t *testing.T) {
	env := newTestEnv(t, []string{"wines"})
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "w9"}]`), 0o644))

	result, err := env.service.Restore(context.Background(), "wines", path)
	require.NoError(t, err)
	assert.Equal(t, "export.json", result.FileName)
	assert.Equal(t, []models.Document{{"id": "w9"}}, env.store.docs("wines"))
}

func TestRestore_InvalidCollection(t *testing.T) {
	env := newTestEnv(t, []string{"wines"})

	_, err := env.service.Restore(context.Background(), "../wines", "x.json")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = env.service.Restore(context.Background(), "wines", "")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestPrune(t *testing.T) {
	env := newTestEnv(t, []string{"wines", "dishes"}, func(o *BackupOptions) {
		o.Retention = models.RetentionPolicy{KeepLast: 3, MaxAge: 48 * time.Hour, MinKeep: 1}
	})

	for i := 0; i < 5; i++ {
		env.writeFixture(t, "wines", testEpoch.Add(-time.Duration(i)*time.Hour), `[{"id": "w1"}]`)
	}
	// Every dishes backup is older than MaxAge; MinKeep protects the newest.
	env.writeFixture(t, "dishes", testEpoch.Add(-72*time.Hour), `[{"id": "d1"}]`)
	env.writeFixture(t, "dishes", testEpoch.Add(-96*time.Hour), `[{"id": "d1"}]`)
	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "wines", "notes.txt"), []byte("x"), 0o644))

	report, err := env.service.Prune(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Removed, 3)

	assert.Equal(t, []string{
		"notes.txt",
		"wines_2026-10-17T10-00-00.000Z.json",
		"wines_2026-10-17T11-00-00.000Z.json",
		"wines_2026-10-17T12-00-00.000Z.json",
	}, env.files(t, "wines"))
	assert.Equal(t, []string{"dishes_2026-10-14T12-00-00.000Z.json"}, env.files(t, "dishes"))
}

func TestPrune_NoBackupDir(t *testing.T) {
	env := newTestEnv(t, []string{"wines"})
	report, err := env.service.Prune(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
}

func TestSelectExpired(t *testing.T) {
	now := testEpoch
	records := make([]models.BackupRecord, 4)
	for i := range records {
		records[i] = models.BackupRecord{FileName: string(rune('a' + i)), CreatedAt: now.Add(-time.Duration(i) * 24 * time.Hour)}
	}

	names := func(rs []models.BackupRecord) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.FileName)
		}
		return out
	}

	tests := []struct {
		name   string
		policy models.RetentionPolicy
		want   []string
	}{
		{"unlimited", models.RetentionPolicy{}, nil},
		{"keep last two", models.RetentionPolicy{KeepLast: 2}, []string{"c", "d"}},
		{"max age", models.RetentionPolicy{MaxAge: 36 * time.Hour}, []string{"c", "d"}},
		{"max age protects min keep", models.RetentionPolicy{MaxAge: time.Hour, MinKeep: 2}, []string{"c", "d"}},
		{"max age without min keep", models.RetentionPolicy{MaxAge: time.Hour}, []string{"b", "c", "d"}},
		{"both rules", models.RetentionPolicy{KeepLast: 3, MaxAge: 36 * time.Hour, MinKeep: 1}, []string{"c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(selectExpired(records, tt.policy, now)))
		})
	}
}

func TestListBackups(t *testing.T) {
	env := newTestEnv(t, []string{"wines", "dishes"})
	env.writeFixture(t, "wines", testEpoch.Add(-2*time.Hour), `[{"id": "w1"}, {"id": "w2"}]`)
	env.writeFixture(t, "wines", testEpoch, `[{"id": "w1"}]`)
	env.writeFixture(t, "dishes", testEpoch.Add(-time.Hour), `[]`)

	records, err := env.service.ListBackups("wines")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, testEpoch, records[0].CreatedAt)
	assert.Equal(t, 1, records[0].DocumentCount)
	assert.Equal(t, 2, records[1].DocumentCount)

	all, err := env.service.ListBackups("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "wines", all[0].Collection)
	assert.Equal(t, "dishes", all[1].Collection)

	none, err := env.service.ListBackups("grapes")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = env.service.ListBackups("../etc")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestBackupFileName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("CET", 3600))
	name := backupFileName("wines", ts)
	assert.Equal(t, "wines_2026-03-04T04-06-07.891Z.json", name)

	parsed, ok := parseBackupFileName("wines", name)
	require.True(t, ok)
	assert.True(t, parsed.Equal(ts))

	_, ok = parseBackupFileName("dishes", name)
	assert.False(t, ok)
	_, ok = parseBackupFileName("wines", "wines_latest.json")
	assert.False(t, ok)
}

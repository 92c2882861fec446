package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLogs(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	out := make(map[string]string)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = string(data)
	}
	return out
}

func TestAllCategoriesLog(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{DebugMode: true, Level: "debug"}))
	t.Cleanup(CloseAll)

	assert.True(t, IsDebugMode())
	for _, cat := range AllCategories {
		require.True(t, IsCategoryEnabled(cat), "category %s", cat)
		l := Get(cat)
		l.Info("info for %s", cat)
		l.Debug("debug for %s", cat)
		l.Warn("warn for %s", cat)
		l.Error("error for %s", cat)
	}
	CloseAll()

	logs := readLogs(t, filepath.Join(ws, ".omni", "logs"))
	for _, cat := range AllCategories {
		var found bool
		for name, content := range logs {
			if strings.HasSuffix(name, "_"+string(cat)+".log") {
				found = true
				assert.Contains(t, content, "info for "+string(cat))
				assert.Contains(t, content, "error for "+string(cat))
			}
		}
		assert.True(t, found, "no log file for %s", cat)
	}
}

func TestDisabledModeWritesNothing(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{DebugMode: false}))
	t.Cleanup(CloseAll)

	Perception("should not appear")
	Get(CategoryTactile).Error("nor this")

	_, err := os.Stat(filepath.Join(ws, ".omni", "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{
		DebugMode:  true,
		Categories: map[string]bool{"api": false},
	}))
	t.Cleanup(CloseAll)

	assert.False(t, IsCategoryEnabled(CategoryAPI))
	assert.True(t, IsCategoryEnabled(CategoryPlanner))
}

func TestLevelFiltering(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{DebugMode: true, Level: "warn", JSONFormat: true}))
	t.Cleanup(CloseAll)

	Planner("quiet info")
	PlannerWarn("loud warning")
	Get(CategoryPlanner).StructuredLog("error", "structured", map[string]interface{}{"steps": 3})
	CloseAll()

	var content string
	for name, c := range readLogs(t, filepath.Join(ws, ".omni", "logs")) {
		if strings.HasSuffix(name, "_planner.log") {
			content = c
		}
	}
	assert.NotContains(t, content, "quiet info")
	assert.Contains(t, content, "loud warning")
	assert.Contains(t, content, `"steps":3`)
}

func TestTimer(t *testing.T) {
	require.NoError(t, Initialize(t.TempDir(), Options{}))
	timer := StartTimer(CategorySession, "op")
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.StopWithThreshold(time.Hour), time.Millisecond)
}

func TestInitializeRequiresWorkspace(t *testing.T) {
	assert.Error(t, Initialize("", Options{}))
}

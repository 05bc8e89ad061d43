package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/config"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/store"
)

func TestApplyOverrides(t *testing.T) {
	t.Setenv("RTSDA_YOUTUBE_API_KEY", "key-from-env")

	v := viper.New()
	v.SetEnvPrefix("RTSDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	require.NoError(t, v.BindEnv("youtube.api_key"))
	v.Set("listen", "0.0.0.0:9999")

	c := config.DefaultConfig()
	applyOverrides(c, v)

	assert.Equal(t, "0.0.0.0:9999", c.Listen)
	assert.Equal(t, "key-from-env", c.YouTube.APIKey)
	assert.Equal(t, "America/New_York", c.Timezone)
}

func TestNewApp_WithoutOptionalServices(t *testing.T) {
	c := config.DefaultConfig()
	c.Database = filepath.Join(t.TempDir(), "events.db")
	c.Metrics = true

	a, err := newApp(context.Background(), c)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.media)
	assert.NotNil(t, a.registry)
	assert.Error(t, requireMedia(a))

	res, err := a.sweeper().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Lapsed)
}

func TestPrintEvents(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2024, 3, 13, 19, 0, 0, 0, loc)

	var buf bytes.Buffer
	printEvents(&buf, []model.ScheduledEvent{{
		Title:      "Prayer Meeting",
		Location:   "Fellowship Hall",
		Start:      start.UTC(),
		End:        start.Add(time.Hour).UTC(),
		Recurrence: model.RuleWeekly,
	}}, loc)
	assert.Equal(t, "Wed Mar 13  19:00-20:00  Prayer Meeting (weekly) @ Fellowship Hall\n", buf.String())

	buf.Reset()
	printEvents(&buf, nil, loc)
	assert.Equal(t, "No upcoming events.\n", buf.String())
}

func TestCommands_SweepAndUpcoming(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "events.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	require.NoError(t, st.Create(context.Background(), &model.ScheduledEvent{
		ID:    "vespers",
		Title: "Vespers",
		Start: start,
		End:   start.Add(time.Hour),
	}))
	require.NoError(t, st.Close())

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"--config", cfgPath, "--db", dbPath}, args...))
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	assert.Equal(t, "lapsed 0, advanced 0, skipped 0, failed 0\n", run("sweep"))

	var events []model.ScheduledEvent
	require.NoError(t, json.Unmarshal([]byte(run("upcoming", "--json", "--limit", "5")), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "vespers", events[0].ID)
}

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callpipe/config"
	"callpipe/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDurationCommand(t *testing.T) {
	out, err := execute(t, "duration", "2023-10-01T10:00:00Z", "2023-10-01T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "30\n", out)

	out, err = execute(t, "duration", "", "2023-10-01T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)
}

func TestIngestEndpoint(t *testing.T) {
	got, err := ingestEndpoint("http://localhost:8080/", "Teams")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/ingest/teams", got)

	got, err = ingestEndpoint("http://localhost:8080", "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/ingest", got)
}

const inlineConfig = `
mode: inline
storage:
  default: primary
  sinks:
    primary:
      driver: memory
    archive:
      driver: memory
  routes:
    Zoom: archive
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestInlineAppRoutesBySource(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, inlineConfig))
	require.NoError(t, err)

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close(ctx)

	srv, err := a.server(ctx)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	record := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, os.WriteFile(record, []byte(`{
		"callId": "ZOOM_42",
		"startTime": "2023-10-01T10:00:00Z",
		"endTime": "2023-10-01T10:45:00Z",
		"participants": ["A@corp.example", "b@corp.example", "a@corp.example"],
		"recording": false
	}`), 0o600))

	out, err := execute(t, "ingest", "--file", record, "--source", "zoom", "--url", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Zoom call data ingested successfully")

	call, err := a.backends["archive"].Get(ctx, "Zoom", "ZOOM_42")
	require.NoError(t, err)
	require.NotNil(t, call.DurationMinutes)
	assert.Equal(t, 45, *call.DurationMinutes)
	assert.Equal(t, 2, call.ParticipantCount)
	assert.NotEmpty(t, call.IngestID)

	_, err = a.backends["primary"].Get(ctx, "Zoom", "ZOOM_42")
	assert.Error(t, err)

	for source, want := range map[string]string{"ZOOM": "archive", "zoom": "archive", "Teams": "primary", "Webex": "primary"} {
		name, _, err := a.router.SinkFor(source)
		require.NoError(t, err)
		assert.Equal(t, want, name, source)
	}

	require.NoError(t, a.ready(ctx))
}

func TestIngestCommandReportsFailure(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, inlineConfig))
	require.NoError(t, err)
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close(ctx)
	srv, err := a.server(ctx)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	record := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(record, []byte(`{"source":"Avaya"}`), 0o600))

	_, err = execute(t, "ingest", "--file", record, "--source", "", "--url", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestStreamAppWiresTopics(t *testing.T) {
	t.Setenv("PIPELINE_MODE", config.ModeStream)
	cfg, err := config.Load(writeConfig(t, `
kafka:
  broker: localhost:9092
storage:
  sinks:
    main:
      driver: memory
`))
	require.NoError(t, err)

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, a.producers, 3)
	assert.Equal(t, "call-records-raw", a.producers[0].Topic())
	assert.Equal(t, "call-records-normalized", a.producers[1].Topic())
	assert.Equal(t, "call-records-dlq", a.dlq.Topic())
	assert.NoError(t, a.close(ctx))
}

func TestUnknownWorkerStage(t *testing.T) {
	_, err := execute(t, "worker", "ingest")
	assert.Error(t, err)
}

// closeSpy records the context it was closed with.
type closeSpy struct {
	store.Backend
	deadline time.Time
	err      error
}

func (s *closeSpy) Close(ctx context.Context) error {
	s.deadline, _ = ctx.Deadline()
	return s.err
}

func TestShutdownBoundsAndReportsCleanup(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, inlineConfig))
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)

	spy := &closeSpy{Backend: store.NewMemory(), err: errors.New("disk full")}
	a.backends["spy"] = spy

	start := time.Now()
	err = a.shutdown(2 * time.Second)
	require.ErrorContains(t, err, "disk full")
	require.False(t, spy.deadline.IsZero(), "close must run under a deadline")
	assert.WithinDuration(t, start.Add(2*time.Second), spy.deadline, time.Second)
}

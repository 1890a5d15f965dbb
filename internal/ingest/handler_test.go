package ingest

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/core/bullpen"
	"github.com/kfurusawa/winprob/internal/core/engine"
	"github.com/kfurusawa/winprob/internal/core/state"
	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/persist"
)

type fixture struct {
	mux     *http.ServeMux
	bus     *events.Bus
	updates chan events.GameStateUpdate
	store   *bullpen.AppearanceStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bus := events.NewBus()
	updates := make(chan events.GameStateUpdate, 16)
	bus.Subscribe(events.EventRawUpdate, func(evt events.Event) error {
		if u, ok := evt.Payload.(events.GameStateUpdate); ok {
			updates <- u
		}
		return nil
	})

	store, err := bullpen.OpenAppearanceStore(filepath.Join(t.TempDir(), "relief.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	params := config.DefaultModelParams()
	eng := engine.New(nil, state.NewStore(), persist.NewWriter(t.TempDir()),
		bullpen.NewRater(store, params.Bullpen), params, time.Hour, nil)
	t.Cleanup(eng.Close)

	h := NewHandler(eng, bus, store)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &fixture{mux: mux, bus: bus, updates: updates, store: store}
}

func (f *fixture) post(t *testing.T, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleUpdateSingle(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/feed/update",
		`{"game_id":"g1","date":"2026-08-14","inning":3,"half":"top","outs":1,"bases":"二塁・三塁","home_score":1,"away_score":0,"event_index":7,"source":"official"}`,
		nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case u := <-f.updates:
		assert.Equal(t, "g1", u.GameID)
		require.NotNil(t, u.Inning)
		assert.Equal(t, 3, *u.Inning)
		assert.Equal(t, "二塁・三塁", u.Bases)
		require.NotNil(t, u.EventIndex)
		assert.Equal(t, int64(7), *u.EventIndex)
	case <-time.After(time.Second):
		t.Fatal("no raw update published")
	}
}

func TestHandleUpdateBatch(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/feed/update",
		`[{"game_id":"g1","inning":1},{"game_id":"g2","inning":4}]`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, want := range []string{"g1", "g2"} {
		select {
		case u := <-f.updates:
			assert.Equal(t, want, u.GameID)
		case <-time.After(time.Second):
			t.Fatalf("update for %s never published", want)
		}
	}
}

func TestHandleUpdateGzipBody(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(`{"game_id":"g1","inning":5}`))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	req := httptest.NewRequest(http.MethodPost, "/feed/update", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case u := <-f.updates:
		assert.Equal(t, "g1", u.GameID)
	case <-time.After(time.Second):
		t.Fatal("gzip update never published")
	}
}

func TestHandleUpdateBadJSONStillAcks(t *testing.T) {
	f := newFixture(t)

	// The feed relay retries non-200s forever; a poison payload is logged
	// and dropped instead.
	rec := f.post(t, "/feed/update", `{"game_id": truncated`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case u := <-f.updates:
		t.Fatalf("poison payload published: %+v", u)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandleGameRegistration(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/feed/game",
		`{"game_id":"g1","date":"2026-08-14","home_team":"T01","away_team":"T02","pregame_probability":0.58}`,
		nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/feed/game", `{"date":"2026-08-14"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "registration without game_id")
}

func TestHandleAppearance(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/feed/appearance",
		`[{"date":"2026-08-13","team":"T01","is_relief":true,"bf":4,"k":2,"bb":0,"ip_outs":3},
		  {"date":"2026-08-14","team":"T01","is_relief":true,"bf":5,"k":1,"bb":1,"ip_outs":3}]`,
		nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.QueryWindow("2026-08-14", 14)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

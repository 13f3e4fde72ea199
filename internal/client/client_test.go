package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dialysis-ledger/common/mqtt"
	"dialysis-ledger/internal/blob"
	"dialysis-ledger/internal/export"
	httpapi "dialysis-ledger/internal/http"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"
	"dialysis-ledger/internal/service"
	"dialysis-ledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	clock := service.FixedClock(time.Date(2024, 5, 8, 9, 30, 0, 0, time.UTC))
	records := repository.NewMemoryExchangeStore()
	ids := repository.NewMemoryIdentityRepository()
	kv := store.NewMemoryKV()
	blobs := blob.NewMemoryStorage("/api/v1/images")
	tokens, err := service.NewTokenIssuer("client-secret", time.Hour, "dialysis-ledger", clock)
	require.NoError(t, err)
	dashboard := service.NewDashboardService(records, ids, kv, time.Minute, clock, logger)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Identity:  service.NewIdentityService(ids, ids, kv, tokens, time.Minute, logger),
		PD:        service.NewPDService(records, blobs, nil, dashboard, clock, service.PDServiceOptions{}, logger),
		HD:        service.NewHDService(records, nil, dashboard, clock, logger),
		Dashboard: dashboard,
		History:   service.NewHistoryService(records, ids, clock, logger),
		Trends:    service.NewTrendService(records, ids, clock, logger),
		Blobs:     blobs,
		Logger:    logger,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ptr(v float64) *float64 { return &v }

func signedIn(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := New(srv.URL, 5*time.Second, nil)
	_, err := c.Signup(context.Background(), service.SignupRequest{
		Email: "asha@example.com", Password: "secret1", Username: "Asha Rao", DialysisType: "PD",
	})
	require.NoError(t, err)
	require.NotEmpty(t, c.Token())
	return c
}

func TestClient_LedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newAPI(t)
	c := signedIn(t, srv)

	rec, err := c.CreatePD(ctx, service.CreatePDRequest{
		Timestamp: "2024-05-08T08:00", DrainVolume: ptr(2150), Weight: ptr(60.2),
	})
	require.NoError(t, err)
	require.NotNil(t, rec.UF)
	assert.Equal(t, 150.0, *rec.UF)

	updated, err := c.UpdatePD(ctx, rec.ID, service.UpdatePDRequest{FillVolume: 2000, DrainVolume: ptr(1900), BaxterStrength: "1.5%"})
	require.NoError(t, err)
	assert.Equal(t, -100.0, *updated.UF)

	sum, err := c.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, -100.0, sum.TodayTotalUF)

	list, err := c.ListPD(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	body, filename, err := c.ExportHistory(ctx, export.FormatPDF, ledger.FilterConfig{})
	require.NoError(t, err)
	assert.Equal(t, "dialysis-history-2024-05-08.pdf", filename)
	assert.Equal(t, "%PDF", string(body[:4]))

	require.NoError(t, c.DeletePD(ctx, rec.ID))
	err = c.DeletePD(ctx, rec.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClient_UnauthorizedAndValidation(t *testing.T) {
	ctx := context.Background()
	srv := newAPI(t)

	c := New(srv.URL, 5*time.Second, nil)
	_, err := c.Dashboard(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	c = signedIn(t, srv)
	_, err = c.CreateHD(ctx, service.CreateHDRequest{PreWeight: -1, PostWeight: 70})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, httpapi.ResultError, apiErr.Code)
}

func TestHistoryBrowser_StageDoesNotRefetch(t *testing.T) {
	ctx := context.Background()
	srv := newAPI(t)
	c := signedIn(t, srv)
	for _, ts := range []string{"2024-05-08T06:00", "2024-05-07T06:00", "2024-05-07T18:00"} {
		_, err := c.CreatePD(ctx, service.CreatePDRequest{Timestamp: ts, DrainVolume: ptr(2100)})
		require.NoError(t, err)
	}

	b := NewHistoryBrowser(c)
	state, applied := b.Refresh(ctx)
	require.True(t, applied)
	assert.Equal(t, ledger.PhaseLoaded, state.Phase)
	assert.Equal(t, 3, state.Data.Showing)

	b.Stage(ledger.FilterConfig{Date: "2024-05-07"})
	assert.Equal(t, 3, b.State().Data.Showing)
	_, active := b.Applied()
	assert.False(t, active)

	state, _ = b.Apply(ctx)
	assert.Equal(t, 2, state.Data.Showing)
	assert.Equal(t, 3, state.Data.Total)
	require.Len(t, state.Data.Groups, 1)
	assert.Equal(t, 200.0, state.Data.Groups[0].TotalUF)

	state, _ = b.Clear(ctx)
	assert.Equal(t, 3, state.Data.Showing)
	assert.Equal(t, ledger.FilterConfig{}, b.Pending())
}

func TestTrendView_DropsSupersededResponse(t *testing.T) {
	slowStarted := make(chan struct{})
	releaseSlow := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("window") {
		case "7days":
			close(slowStarted)
			<-releaseSlow
			_, _ = w.Write([]byte(`{"code":2000,"type":"success","message":"ok","result":{"window":"7days","points":[],"retention":false,"empty":true}}`))
		default:
			_, _ = w.Write([]byte(`{"code":2000,"type":"success","message":"ok","result":{"window":"30days","points":[{"label":"May 1","value":120,"timestamp":"2024-05-01T08:00:00"}],"retention":true,"empty":false}}`))
		}
	}))
	defer srv.Close()

	v := NewTrendView(New(srv.URL, 5*time.Second, nil))

	var (
		wg          sync.WaitGroup
		slowApplied bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowApplied = v.Select(context.Background(), ledger.Window7Days)
	}()
	<-slowStarted

	state, applied := v.Select(context.Background(), ledger.Window30Days)
	require.True(t, applied)
	assert.Equal(t, ledger.PhaseLoaded, state.Phase)

	close(releaseSlow)
	wg.Wait()
	assert.False(t, slowApplied)

	final := v.State()
	assert.Equal(t, ledger.PhaseLoaded, final.Phase)
	assert.Equal(t, ledger.Window30Days, final.Data.Window)
	assert.True(t, final.Data.Retention)
	assert.Equal(t, ledger.Window30Days, v.Window())
}

func TestTrendView_EmptyAndFailedRefresh(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1,"type":"error","message":"boom","result":null}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":2000,"type":"success","message":"ok","result":{"window":"7days","points":[],"retention":false,"empty":true}}`))
	}))
	defer srv.Close()

	v := NewTrendView(New(srv.URL, 5*time.Second, nil))
	state, _ := v.Refresh(context.Background())
	assert.Equal(t, ledger.PhaseLoadedEmpty, state.Phase)

	fail.Store(true)
	state, _ = v.Refresh(context.Background())
	assert.Equal(t, ledger.PhaseFailed, state.Phase)
	assert.True(t, state.HasData)
	var apiErr *APIError
	assert.True(t, errors.As(state.Err, &apiErr))
}

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.handler = handler
	return nil
}

func TestWatch_DeliversPatientEvents(t *testing.T) {
	sub := &fakeSubscriber{}
	var got []notify.ChangeEvent
	require.NoError(t, Watch(sub, "ledger/patients/", "p-1", 1, func(ev notify.ChangeEvent) {
		got = append(got, ev)
	}))
	assert.Equal(t, "ledger/patients/p-1/changes", sub.topic)

	require.NoError(t, sub.handler(sub.topic, []byte(`{"patient_id":"p-1","kind":"pd","record_id":"r-1","op":"update","fields":{"uf":200}}`)))
	require.NoError(t, sub.handler(sub.topic, []byte(`{"patient_id":"p-2","kind":"pd","record_id":"r-2","op":"insert"}`)))
	assert.Error(t, sub.handler(sub.topic, []byte(`not json`)))

	require.Len(t, got, 1)
	assert.Equal(t, notify.OpUpdate, got[0].Op)
	assert.Equal(t, 200.0, got[0].Fields["uf"])
}

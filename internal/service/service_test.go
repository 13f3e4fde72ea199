package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"dialysis-ledger/internal/blob"
	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/export"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"
	"dialysis-ledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type failingStorage struct{}

func (failingStorage) Upload(context.Context, string, string, io.Reader) (*blob.Object, error) {
	return nil, errors.Join(blob.ErrUpload, errors.New("bucket unavailable"))
}

func (failingStorage) Open(context.Context, string) (io.ReadCloser, *blob.Object, error) {
	return nil, nil, blob.ErrNotFound
}

type fixture struct {
	clock     *Clock
	store     *repository.MemoryExchangeStore
	ids       *repository.MemoryIdentityRepository
	kv        *store.MemoryKV
	events    *recordingPublisher
	identity  *IdentityService
	dashboard *DashboardService
	pd        *PDService
	hd        *HDService
	history   *HistoryService
	trends    *TrendService
}

// now is 2024-05-08 09:30 civil.
func newFixture(t *testing.T) *fixture {
	f := &fixture{
		clock:  FixedClock(time.Date(2024, 5, 8, 9, 30, 0, 0, time.UTC)),
		store:  repository.NewMemoryExchangeStore(),
		ids:    repository.NewMemoryIdentityRepository(),
		kv:     store.NewMemoryKV(),
		events: &recordingPublisher{},
	}
	logger := zap.NewNop()
	tokens, err := NewTokenIssuer("test-secret", time.Hour, "dialysis-ledger", f.clock)
	require.NoError(t, err)

	f.identity = NewIdentityService(f.ids, f.ids, f.kv, tokens, time.Minute, logger)
	f.dashboard = NewDashboardService(f.store, f.ids, f.kv, time.Minute, f.clock, logger)
	f.pd = NewPDService(f.store, blob.NewMemoryStorage("/api/v1/images"), f.events, f.dashboard, f.clock,
		PDServiceOptions{MaxImageSide: 2048, MaxImageBytes: 1 << 20}, logger)
	f.hd = NewHDService(f.store, f.events, f.dashboard, f.clock, logger)
	f.history = NewHistoryService(f.store, f.ids, f.clock, logger)
	f.trends = NewTrendService(f.store, f.ids, f.clock, logger)
	return f
}

func (f *fixture) signup(t *testing.T, dtype string) string {
	resp, err := f.identity.Signup(context.Background(), SignupRequest{
		Email: "asha@example.com", Password: "secret1", Username: "Asha Rao", DialysisType: dtype,
	})
	require.NoError(t, err)
	return resp.Patient.PatientID
}

func (f *fixture) logPD(t *testing.T, patientID, ts string, fill, drain float64, weight *float64, strength string) *domain.PDExchange {
	leftover := 2000 - fill
	rec, err := f.pd.Create(context.Background(), CreatePDRequest{
		PatientID:      patientID,
		Timestamp:      ts,
		BaxterStrength: strength,
		LeftoverVolume: &leftover,
		DrainVolume:    &drain,
		Weight:         weight,
	})
	require.NoError(t, err)
	return rec
}

func TestIdentity_SignupLoginResolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "pd")

	_, err := f.identity.Signup(ctx, SignupRequest{Email: "ASHA@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.identity.Login(ctx, LoginRequest{Email: "asha@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	auth, err := f.identity.Login(ctx, LoginRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, patientID, auth.Patient.PatientID)

	userID, err := f.identity.CurrentUser(auth.Token)
	require.NoError(t, err)
	assert.NotEqual(t, patientID, userID)

	resolved, err := f.identity.ResolvePatientID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, patientID, resolved)

	cached, err := f.kv.Get(ctx, patientCacheKey(userID))
	require.NoError(t, err)
	assert.Equal(t, patientID, cached)

	profile, err := f.identity.Profile(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, "Asha", profile.FirstName)
	assert.Equal(t, domain.DialysisPD, profile.Patient.DialysisType)
}

// flakyAccounts fails the first CreateAccount the way an aborted transaction does: nothing is stored.
type flakyAccounts struct {
	*repository.MemoryIdentityRepository
	failures int
}

func (f *flakyAccounts) CreateAccount(ctx context.Context, email string, hash []byte, p *domain.Patient) (*domain.User, *domain.Patient, error) {
	if f.failures > 0 {
		f.failures--
		return nil, nil, errors.New("patients insert failed")
	}
	return f.MemoryIdentityRepository.CreateAccount(ctx, email, hash, p)
}

func TestIdentity_FailedSignupCanBeRetried(t *testing.T) {
	ctx := context.Background()
	clock := FixedClock(time.Date(2024, 5, 8, 9, 30, 0, 0, time.UTC))
	tokens, err := NewTokenIssuer("test-secret", time.Hour, "dialysis-ledger", clock)
	require.NoError(t, err)
	accounts := &flakyAccounts{MemoryIdentityRepository: repository.NewMemoryIdentityRepository(), failures: 1}
	identity := NewIdentityService(accounts, accounts, store.NewMemoryKV(), tokens, time.Minute, zap.NewNop())

	req := SignupRequest{Email: "asha@example.com", Password: "secret1", Username: "Asha Rao"}
	_, err = identity.Signup(ctx, req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)

	_, err = identity.Login(ctx, LoginRequest{Email: "asha@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	resp, err := identity.Signup(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, resp.Patient)

	auth, err := identity.Login(ctx, LoginRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NotNil(t, auth.Patient)
	assert.Equal(t, resp.Patient.PatientID, auth.Patient.PatientID)

	userID, err := identity.CurrentUser(auth.Token)
	require.NoError(t, err)
	patientID, err := identity.ResolvePatientID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, resp.Patient.PatientID, patientID)
}

func TestIdentity_SignupValidation(t *testing.T) {
	f := newFixture(t)
	for _, req := range []SignupRequest{
		{Email: "not-an-email", Password: "secret1"},
		{Email: "a@example.com", Password: "123"},
		{Email: "a@example.com", Password: "secret1", DialysisType: "CAPD"},
	} {
		_, err := f.identity.Signup(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation, req.Email)
	}
}

func TestToken_ExpiredAndForeign(t *testing.T) {
	at := time.Date(2024, 5, 8, 9, 30, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer("s1", time.Minute, "dialysis-ledger", FixedClock(at))
	require.NoError(t, err)
	token, _, err := issuer.Issue("u-1")
	require.NoError(t, err)

	later, err := NewTokenIssuer("s1", time.Minute, "dialysis-ledger", FixedClock(at.Add(2*time.Minute)))
	require.NoError(t, err)
	_, err = later.Parse(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	other, err := NewTokenIssuer("s2", time.Minute, "dialysis-ledger", FixedClock(at))
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = NewTokenIssuer("", time.Minute, "x", FixedClock(at))
	assert.Error(t, err)
}

func TestPD_CreateDefaults(t *testing.T) {
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	rec, err := f.pd.Create(context.Background(), CreatePDRequest{
		PatientID:   patientID,
		DrainVolume: domain.Float64(2150),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.Strength1_5, rec.BaxterStrength)
	assert.Equal(t, 2000.0, rec.FillVolume)
	assert.Equal(t, "2024-05-08T09:30:00", rec.Timestamp.String())
	require.NotNil(t, rec.UF)
	assert.Equal(t, 150.0, *rec.UF)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, notify.OpInsert, f.events.events[0].Op)
	assert.Equal(t, notify.KindPD, f.events.events[0].Kind)
}

func TestPD_CreatePadsShortTimestampAndRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	rec, err := f.pd.Create(ctx, CreatePDRequest{PatientID: patientID, Timestamp: "2024-05-07T22:15"})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-07T22:15:00", rec.Timestamp.String())
	assert.Nil(t, rec.UF)

	for _, req := range []CreatePDRequest{
		{PatientID: patientID, BaxterStrength: "4.25%"},
		{PatientID: patientID, BagVolume: domain.Float64(0)},
		{PatientID: patientID, LeftoverVolume: domain.Float64(2500)},
		{PatientID: patientID, DrainVolume: domain.Float64(-1)},
		{PatientID: patientID, Timestamp: "yesterday"},
	} {
		_, err := f.pd.Create(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestPD_CreateWithImage(t *testing.T) {
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	rec, err := f.pd.Create(context.Background(), CreatePDRequest{
		PatientID: patientID,
		Image:     &ImageUpload{Filename: "bag photo.png", ContentType: "image/png", Data: bytes.NewReader(pngBytes(t))},
	})
	require.NoError(t, err)
	assert.Contains(t, rec.ImageURL, "/api/v1/images/")
}

func TestPD_UploadFailureAbortsSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")
	f.pd.blobs = failingStorage{}

	_, err := f.pd.Create(ctx, CreatePDRequest{
		PatientID: patientID,
		Image:     &ImageUpload{Filename: "a.png", ContentType: "image/png", Data: bytes.NewReader(pngBytes(t))},
	})
	assert.ErrorIs(t, err, blob.ErrUpload)

	list, err := f.pd.List(ctx, patientID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.events.events)
}

func TestPD_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")
	rec := f.logPD(t, patientID, "2024-05-08T08:00", 2000, 2100, nil, "")

	updated, err := f.pd.Update(ctx, patientID, rec.ID, UpdatePDRequest{
		FillVolume: 2000, DrainVolume: domain.Float64(1900), BaxterStrength: "2.5",
	})
	require.NoError(t, err)
	assert.Equal(t, -100.0, *updated.UF)
	assert.Equal(t, domain.Strength2_5, updated.BaxterStrength)

	_, err = f.pd.Update(ctx, "someone-else", rec.ID, UpdatePDRequest{FillVolume: 2000})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.pd.Update(ctx, patientID, "not-a-uuid", UpdatePDRequest{FillVolume: 2000})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, f.pd.Delete(ctx, patientID, rec.ID))
	assert.ErrorIs(t, f.pd.Delete(ctx, patientID, rec.ID), repository.ErrNotFound)

	ops := []notify.Op{}
	for _, ev := range f.events.events {
		ops = append(ops, ev.Op)
	}
	assert.Equal(t, []notify.Op{notify.OpInsert, notify.OpUpdate, notify.OpDelete}, ops)
}

func TestDashboard_TotalsAndInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	f.logPD(t, patientID, "2024-05-08T06:00", 2000, 2100, nil, "")
	f.logPD(t, patientID, "2024-05-08T08:00", 2000, 1800, nil, "")
	f.logPD(t, patientID, "2024-05-07T23:59", 2000, 2300, nil, "")
	f.logPD(t, patientID, "2024-04-20T10:00", 2000, 3000, nil, "")

	sum, err := f.dashboard.Summary(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-08", sum.Today)
	assert.Equal(t, -100.0, sum.TodayTotalUF)
	require.Len(t, sum.TodayExchanges, 2)
	assert.Equal(t, "06:00", sum.TodayExchanges[0].Time)
	assert.Equal(t, "+100", sum.TodayExchanges[0].UF)
	assert.Equal(t, "08:00", sum.TodayExchanges[1].Time)
	assert.Equal(t, int64(67), sum.WeeklyAverageUF) // (100 - 200 + 300) / 3
	assert.Equal(t, "Asha", sum.FirstName)
	assert.Equal(t, "pd", sum.LogAction)

	// cached until a mutation invalidates it
	gen, err := f.dashboard.generation(ctx, patientID)
	require.NoError(t, err)
	_, err = f.kv.Get(ctx, dashboardKey(patientID, gen, "2024-05-08"))
	require.NoError(t, err)
	f.logPD(t, patientID, "2024-05-08T09:00", 2000, 2000, nil, "")
	_, err = f.kv.Get(ctx, dashboardKey(patientID, gen, "2024-05-08"))
	assert.ErrorIs(t, err, store.ErrMiss)
	next, err := f.dashboard.generation(ctx, patientID)
	require.NoError(t, err)
	assert.NotEqual(t, gen, next)

	sum, err = f.dashboard.Summary(ctx, patientID)
	require.NoError(t, err)
	assert.Len(t, sum.TodayExchanges, 3)
}

// raceKV runs beforeSet once, just before the first summary write.
type raceKV struct {
	store.KV
	beforeSet func()
}

func (r *raceKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if r.beforeSet != nil && strings.HasPrefix(key, "ledger:dashboard:") {
		hook := r.beforeSet
		r.beforeSet = nil
		hook()
	}
	return r.KV.Set(ctx, key, value, ttl)
}

func TestDashboard_InvalidationDuringBuildIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	kv := &raceKV{KV: store.NewMemoryKV()}
	dashboard := NewDashboardService(f.store, f.ids, kv, time.Minute, f.clock, zap.NewNop())
	pd := NewPDService(f.store, nil, f.events, dashboard, f.clock, PDServiceOptions{}, zap.NewNop())

	drain := 1900.0
	kv.beforeSet = func() {
		_, err := pd.Create(ctx, CreatePDRequest{PatientID: patientID, Timestamp: "2024-05-08T09:00", DrainVolume: &drain})
		require.NoError(t, err)
	}

	stale, err := dashboard.Summary(ctx, patientID)
	require.NoError(t, err)
	assert.Empty(t, stale.TodayExchanges)

	fresh, err := dashboard.Summary(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, fresh.TodayExchanges, 1)
	assert.Equal(t, "09:00", fresh.TodayExchanges[0].Time)
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, int64(-2), roundHalfUp(-2.5))
	assert.Equal(t, int64(3), roundHalfUp(2.5))
	assert.Equal(t, int64(-3), roundHalfUp(-2.6))
	assert.Equal(t, int64(67), roundHalfUp(200.0/3))
	assert.Equal(t, int64(0), roundHalfUp(-0.4))
}

func TestDashboard_EmptyWindow(t *testing.T) {
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	sum, err := f.dashboard.Summary(context.Background(), patientID)
	require.NoError(t, err)
	assert.Zero(t, sum.TodayTotalUF)
	assert.Zero(t, sum.WeeklyAverageUF)
	assert.Empty(t, sum.TodayExchanges)
}

func TestHistory_FilterCountsAndGroups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	f.logPD(t, patientID, "2024-05-08T08:00", 2000, 2200, domain.Float64(60), "1.5%")
	f.logPD(t, patientID, "2024-05-08T14:00", 2000, 1900, domain.Float64(61), "2.5%")
	f.logPD(t, patientID, "2024-05-07T20:00", 2000, 2050, domain.Float64(70), "1.5%")

	all, err := f.history.View(ctx, patientID, ledger.FilterConfig{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 3, all.Showing)
	require.Len(t, all.Groups, 2)
	assert.Equal(t, "2024-05-08", all.Groups[0].Date)
	assert.Equal(t, 100.0, all.Groups[0].TotalUF)
	assert.Equal(t, "2:00 PM", all.Groups[0].Rows[0].Time)

	cfg, err := HistoryQuery{WeightCategory: "below", Strength: "1.5"}.FilterConfig()
	require.NoError(t, err)
	below, err := f.history.View(ctx, patientID, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, below.Total)
	assert.Equal(t, 1, below.Showing)
	assert.Equal(t, ledger.WeightBelow, below.Groups[0].Rows[0].WeightCategory)

	cfg, err = HistoryQuery{UFMin: "0", UFMax: "100"}.FilterConfig()
	require.NoError(t, err)
	bounded, err := f.history.View(ctx, patientID, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, bounded.Showing)
	assert.Equal(t, "2024-05-07", bounded.Groups[0].Date)
}

func TestHistoryQuery_Invalid(t *testing.T) {
	for _, q := range []HistoryQuery{
		{WeightCategory: "heavy"},
		{UFMin: "abc"},
		{UFMin: "10", UFMax: "5"},
		{Strength: "3%"},
		{Date: "May 1"},
	} {
		_, err := q.FilterConfig()
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestHistory_ExportXLSX(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")
	f.logPD(t, patientID, "2024-05-08T08:00", 2000, 2200, nil, "")

	raw, name, err := f.history.Export(ctx, patientID, export.FormatXLSX, ledger.FilterConfig{})
	require.NoError(t, err)
	assert.Equal(t, "dialysis-history-2024-05-08.xlsx", name)

	wb, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("History")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestHD_CreateListDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "HD")

	rec, err := f.hd.Create(ctx, CreateHDRequest{PatientID: patientID, PreWeight: 72.5, PostWeight: 70})
	require.NoError(t, err)
	assert.Equal(t, 2.5, *rec.UF)
	assert.Equal(t, "2024-05-08T09:30:00", rec.Timestamp.String())

	_, err = f.hd.Create(ctx, CreateHDRequest{PatientID: patientID, PreWeight: 0, PostWeight: 70})
	assert.ErrorIs(t, err, ErrValidation)

	sum, err := f.dashboard.Summary(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, "hd", sum.LogAction)
	assert.Equal(t, 2.5, sum.TodayTotalUF)

	view, err := f.history.View(ctx, patientID, ledger.FilterConfig{})
	require.NoError(t, err)
	require.Equal(t, 1, view.Showing)
	assert.Equal(t, notify.KindHD, view.Groups[0].Rows[0].Kind)

	require.NoError(t, f.hd.Delete(ctx, patientID, rec.ID))
	list, err := f.hd.List(ctx, patientID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTrends_WindowsAndEmptyState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patientID := f.signup(t, "PD")

	empty, err := f.trends.Series(ctx, patientID, "")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.Equal(t, ledger.Window7Days, empty.Window)

	f.logPD(t, patientID, "2024-05-07T08:00", 2000, 2100, nil, "")
	f.logPD(t, patientID, "2024-04-20T08:00", 2000, 1900, nil, "")

	week, err := f.trends.Series(ctx, patientID, "7days")
	require.NoError(t, err)
	require.Len(t, week.Points, 1)
	assert.Equal(t, "May 7", week.Points[0].Label)
	assert.True(t, week.Retention)

	month, err := f.trends.Series(ctx, patientID, "30days")
	require.NoError(t, err)
	require.Len(t, month.Points, 2)
	assert.Equal(t, "Apr 20", month.Points[0].Label)

	_, err = f.trends.Series(ctx, patientID, "90days")
	assert.ErrorIs(t, err, ErrValidation)
}

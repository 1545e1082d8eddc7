package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/enrich"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/fanout"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/llm"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/persist"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
)

// queueStub plays the REST store: raw_messages lookups, extraction_queue
// patches and the queue RPCs. Claim pops canned batches in order and honors
// p_limit the way the SQL function does.
type queueStub struct {
	mu      sync.Mutex
	raws    map[int64]models.RawMessage
	claims  [][]models.ExtractionJob
	claimed int
	patches []patchCall
	rawErr  bool
}

type patchCall struct {
	query  url.Values
	fields map[string]any
}

func (s *queueStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/rest/v1/raw_messages" && r.Method == http.MethodGet:
		if s.rawErr {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"boom"}`))
			return
		}
		id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Query().Get("id"), "eq."), 10, 64)
		if msg, ok := s.raws[id]; ok {
			json.NewEncoder(w).Encode([]models.RawMessage{msg})
			return
		}
		w.Write([]byte("[]"))
	case r.URL.Path == "/rest/v1/extraction_queue" && r.Method == http.MethodPatch:
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.patches = append(s.patches, patchCall{query: r.URL.Query(), fields: fields})
		w.Write([]byte(`[{}]`))
	case r.URL.Path == "/rest/v1/extraction_queue" && r.Method == http.MethodGet:
		w.Write([]byte("[]"))
	case r.URL.Path == "/rest/v1/rpc/claim_extractions":
		var args struct {
			Limit int `json:"p_limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var batch []models.ExtractionJob
		if s.claimed < len(s.claims) {
			batch = s.claims[s.claimed]
		}
		s.claimed++
		if args.Limit > 0 && len(batch) > args.Limit {
			batch = batch[:args.Limit]
		}
		json.NewEncoder(w).Encode(batch)
	case r.URL.Path == "/rest/v1/rpc/requeue_stale_extractions":
		w.Write([]byte(`{"count": 0}`))
	case r.URL.Path == "/rest/v1/rpc/count_extractions_by_status":
		w.Write([]byte("[]"))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"unexpected ` + r.Method + ` ` + r.URL.Path + `"}`))
	}
}

// jobPatches returns the status updates, excluding heartbeat patches.
func (s *queueStub) jobPatches() []patchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []patchCall
	for _, p := range s.patches {
		if strings.HasPrefix(p.query.Get("id"), "eq.") {
			out = append(out, p)
		}
	}
	return out
}

func (s *queueStub) lastJobPatch(t *testing.T) patchCall {
	t.Helper()
	patches := s.jobPatches()
	require.NotEmpty(t, patches, "no job status update recorded")
	return patches[len(patches)-1]
}

func metaOf(t *testing.T, p patchCall) map[string]any {
	t.Helper()
	meta, ok := p.fields["meta"].(map[string]any)
	require.True(t, ok, "patch carries no meta object")
	return meta
}

type stubExtractor struct {
	mu         sync.Mutex
	extract    func(text string) (map[string]any, error)
	confirm    []string
	confirmErr error
	texts      []string
	confirms   int
}

func (s *stubExtractor) Extract(_ context.Context, text, _, _ string) (map[string]any, llm.Usage, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	fn := s.extract
	s.mu.Unlock()
	if fn == nil {
		return map[string]any{}, llm.Usage{}, nil
	}
	rec, err := fn(text)
	return rec, llm.Usage{PromptTokens: 20, CompletionTokens: 22, TotalTokens: 42}, err
}

func (s *stubExtractor) ConfirmCompilation(context.Context, string, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirms++
	return s.confirm, s.confirmErr
}

func (s *stubExtractor) Model() string { return "stub-model" }

func (s *stubExtractor) BreakerStats() llm.BreakerStats {
	return llm.BreakerStats{State: "closed"}
}

func (s *stubExtractor) extractCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func (s *stubExtractor) confirmCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirms
}

type stubEnricher struct {
	mu       sync.Mutex
	calls    int
	warnings []string
}

func (s *stubEnricher) Enrich(_ context.Context, _ *models.Assignment, _, _ string) *enrich.Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &enrich.Meta{ParseWarnings: s.warnings}
}

type bumpCall struct {
	agency     string
	externalID string
	seenAt     time.Time
}

type stubSink struct {
	mu         sync.Mutex
	persists   []*models.AssignmentPayload
	bumps      []bumpCall
	closes     []*models.AssignmentPayload
	persistErr func(*models.AssignmentPayload) error
	bumpErr    error
	closeErr   error
	action     string
}

func (s *stubSink) Persist(_ context.Context, payload *models.AssignmentPayload) (*persist.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		if err := s.persistErr(payload); err != nil {
			return nil, err
		}
	}
	s.persists = append(s.persists, payload)
	action := s.action
	if action == "" {
		action = persist.ActionInserted
	}
	id := payload.Source.CID
	if payload.AssignmentCode != nil {
		id = *payload.AssignmentCode
	}
	return &persist.Result{Action: action, Agency: "unittest_tuition", ExternalID: id, Status: models.StatusOpen}, nil
}

func (s *stubSink) Bump(_ context.Context, agency, externalID string, seenAt time.Time) (*persist.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bumpErr != nil {
		return nil, s.bumpErr
	}
	s.bumps = append(s.bumps, bumpCall{agency: agency, externalID: externalID, seenAt: seenAt})
	return &persist.Result{Action: persist.ActionUpdated, Agency: agency, ExternalID: externalID, Status: models.StatusOpen}, nil
}

func (s *stubSink) MarkClosed(_ context.Context, payload *models.AssignmentPayload) (*persist.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return nil, s.closeErr
	}
	s.closes = append(s.closes, payload)
	return &persist.Result{Action: persist.ActionUpdated, Status: models.StatusClosed}, nil
}

type stubNotifier struct {
	mu         sync.Mutex
	broadcasts []*models.AssignmentPayload
	dms        []*models.AssignmentPayload
	fail       bool
}

func (s *stubNotifier) Broadcast(_ context.Context, payload *models.AssignmentPayload, _, _ string) (*fanout.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("webhook down")
	}
	s.broadcasts = append(s.broadcasts, payload)
	return &fanout.Delivery{OK: true, Action: "sent"}, nil
}

func (s *stubNotifier) DM(_ context.Context, payload *models.AssignmentPayload) (*fanout.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("webhook down")
	}
	s.dms = append(s.dms, payload)
	return &fanout.Delivery{OK: true, Action: "sent"}, nil
}

type stubReporter struct {
	mu      sync.Mutex
	reports []fanout.Report
}

func (s *stubReporter) Report(_ context.Context, rep fanout.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
}

func (s *stubReporter) all() []fanout.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fanout.Report(nil), s.reports...)
}

// stubStages bundles one of each collaborator so tests can reach into any of
// them after a run.
type stubStages struct {
	ext  *stubExtractor
	enr  *stubEnricher
	sink *stubSink
	not  *stubNotifier
	rep  *stubReporter
}

func newStubStages() *stubStages {
	return &stubStages{
		ext:  &stubExtractor{},
		enr:  &stubEnricher{},
		sink: &stubSink{},
		not:  &stubNotifier{},
		rep:  &stubReporter{},
	}
}

func (s *stubStages) stages() Stages {
	return Stages{
		Extractor: s.ext,
		Enricher:  s.enr,
		Sink:      s.sink,
		Notifier:  s.not,
		Triage:    s.rep,
		Taxonomy:  config.BuiltinTaxonomy(),
	}
}

func testConfig(srvURL string) *config.Config {
	return &config.Config{
		PipelineVersion: "vtest",
		Store: config.StoreConfig{
			URL:        srvURL,
			ServiceKey: "test-key",
			Timeout:    5 * time.Second,
		},
		Worker: config.WorkerConfig{
			WorkerCount:      1,
			ClaimBatchSize:   5,
			IdleSleep:        10 * time.Millisecond,
			MaxAttempts:      3,
			BackoffBase:      2 * time.Second,
			BackoffMax:       time.Minute,
			StaleProcessing:  5 * time.Minute,
			HardValidateMode: config.HardValidateEnforce,
		},
		Compilation: config.CompilationConfig{
			CodeHits:    2,
			LabelHits:   6,
			PostalHits:  3,
			URLHits:     3,
			BlockCount:  6,
			MinBlocks:   2,
			CodePattern: config.DefaultCodePattern,
		},
	}
}

func newTestPool(t *testing.T, stub *queueStub, st *stubStages, mutate func(*config.Config)) *Pool {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.Store.FallbackPath = t.TempDir() + "/fallback.jsonl"
	if mutate != nil {
		mutate(cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool, err := NewPool(cfg, store.New(cfg.Store, logger), st.stages(), logger)
	require.NoError(t, err)
	return pool
}

func rawFixture(id int64, text string) models.RawMessage {
	seen := time.Date(2026, 6, 12, 9, 30, 0, 0, time.UTC)
	return models.RawMessage{
		RawID:       id,
		ChannelRef:  "@unittest_tuition",
		ChannelID:   900,
		MessageID:   4200 + id,
		RawText:     text,
		MessageDate: seen,
		LastSeenAt:  seen,
		Ingested:    "live",
	}
}

func jobFixture(rawID int64) *models.ExtractionJob {
	return &models.ExtractionJob{
		JobID:           100 + rawID,
		RawID:           rawID,
		PipelineVersion: "vtest",
		Status:          models.JobProcessing,
		Meta:            models.JobMeta{Attempt: 1, WorkerID: "claimer"},
		CreatedAt:       time.Now().UTC(),
	}
}

func TestRunOneshotDrainsQueue(t *testing.T) {
	raw := rawFixture(7, "ASSIGNMENT CLOSED")
	stub := &queueStub{
		raws: map[int64]models.RawMessage{7: raw},
		claims: [][]models.ExtractionJob{
			{*jobFixture(7)},
			{},
		},
	}
	st := newStubStages()
	pool := newTestPool(t, stub, st, func(cfg *config.Config) {
		cfg.Worker.Oneshot = true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Run(ctx))

	patches := stub.jobPatches()
	require.Len(t, patches, 1)
	assert.Equal(t, "eq.107", patches[0].query.Get("id"))
	assert.Equal(t, "skipped", patches[0].fields["status"])
}

func TestRunStopsAtMaxJobs(t *testing.T) {
	stub := &queueStub{
		raws: map[int64]models.RawMessage{
			1: rawFixture(1, "ASSIGNMENT CLOSED"),
			2: rawFixture(2, "ASSIGNMENT CLOSED"),
			3: rawFixture(3, "ASSIGNMENT CLOSED"),
		},
		claims: [][]models.ExtractionJob{
			{*jobFixture(1), *jobFixture(2), *jobFixture(3)},
		},
	}
	st := newStubStages()
	pool := newTestPool(t, stub, st, func(cfg *config.Config) {
		cfg.Worker.Oneshot = true
		cfg.Worker.MaxJobs = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Run(ctx))

	assert.Len(t, stub.jobPatches(), 1)
	assert.Equal(t, int64(1), pool.jobsDone.Load())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	stub := &queueStub{claims: [][]models.ExtractionJob{}}
	pool := newTestPool(t, stub, newStubStages(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	pool := newTestPool(t, &queueStub{}, newStubStages(), nil)

	assert.Equal(t, 2*time.Second, pool.backoffFor(1))
	assert.Equal(t, 4*time.Second, pool.backoffFor(2))
	assert.Equal(t, 8*time.Second, pool.backoffFor(3))
	assert.Equal(t, time.Minute, pool.backoffFor(10))
}

func TestMessageLink(t *testing.T) {
	msg := rawFixture(1, "x")
	assert.Equal(t, "https://t.me/unittest_tuition/4201", messageLink(&msg))

	private := msg
	private.ChannelRef = "900"
	assert.Equal(t, "https://t.me/c/900/4201", messageLink(&private))

	unknown := msg
	unknown.ChannelRef = ""
	unknown.ChannelID = 0
	assert.Equal(t, "", messageLink(&unknown))
}

func TestSightingTimePrefersLaterEdit(t *testing.T) {
	msg := rawFixture(1, "x")
	assert.Equal(t, msg.MessageDate, sightingTime(&msg))

	edited := msg
	later := msg.MessageDate.Add(45 * time.Minute)
	edited.EditDate = &later
	assert.Equal(t, later, sightingTime(&edited))

	stale := msg
	earlier := msg.MessageDate.Add(-45 * time.Minute)
	stale.EditDate = &earlier
	assert.Equal(t, msg.MessageDate, sightingTime(&stale))
}

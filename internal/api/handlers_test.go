package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/pamflow/internal/config"
	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/identifier"
	"github.com/savegress/pamflow/internal/logging"
	"github.com/savegress/pamflow/internal/metrics"
	"github.com/savegress/pamflow/internal/scenario"
	"github.com/savegress/pamflow/internal/store"
	"github.com/savegress/pamflow/internal/transition"
	"github.com/savegress/pamflow/internal/validation"
)

const base = "/api/v1/pamflow"

type ackSender struct {
	mu   sync.Mutex
	code string
	sent int
}

func (s *ackSender) Send(_ context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	code := s.code
	if code == "" {
		code = "AA"
	}
	return hl7v2.BuildAck(message, code, ""), nil
}

type testEnv struct {
	handler http.Handler
	mem     *store.Memory
	sender  *ackSender
}

func newTestEnv(t *testing.T, withPlayer bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	mem := store.NewMemory()
	require.NoError(t, store.Seed(ctx, mem, []identifier.Namespace{
		{Type: "PI", System: "urn:oid:1.2.3", OID: "1.2.3", DisplayName: "HOSP", PrefixPattern: "9."},
		{Type: "VN", System: "urn:oid:1.2.4", PrefixMode: "range", RangeMin: 100, RangeMax: 104},
	}))

	m := metrics.New()
	ids := identifier.NewService(mem, mem, &identifier.Config{Metrics: m, Logger: logger})
	machine, err := transition.NewMachine(&transition.Config{Logger: logger})
	require.NoError(t, err)
	engine := scenario.NewEngine(&scenario.Config{
		Identifiers: ids,
		Location:    time.UTC,
		Clock:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		Metrics:     m,
		Logger:      logger,
	})

	env := &testEnv{mem: mem, sender: &ackSender{}}
	deps := &Dependencies{
		Decoder:     hl7v2.NewDecoder(&hl7v2.DecoderConfig{Logger: logger}),
		PAM:         validation.NewPAMValidator(nil),
		MFN:         validation.NewMFNValidator(nil),
		Machine:     machine,
		Identifiers: ids,
		Backend:     mem,
		Venues:      mem,
		Engine:      engine,
		Metrics:     m,
		Logger:      logger,
	}
	if withPlayer {
		deps.Player = scenario.NewPlayer(&scenario.PlayerConfig{
			Machine: machine,
			Venues:  mem,
			Sender:  env.sender,
			Engine:  engine,
			Metrics: m,
			Logger:  logger,
		})
	}
	env.handler = NewServer(config.Default(), deps).Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func adt(trigger, ts, control string) string {
	return "MSH|^~\\&|SRC|FAC|DST|FAC|" + ts + "||ADT^" + trigger + "|" + control + "|P|2.5\r" +
		"EVN|" + trigger + "|" + ts + "\r" +
		"PID|1||12345^^^HOSP^PI||DOE^JOHN||19800515|M\r" +
		"PV1|1|I|UF1^101^A||||||||||||||||V001^^^HOSP^VN"
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, transition.DefaultTableVersion, body["rules"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, http.MethodPost, base+"/validate/pam", map[string]string{"message": adt("A01", "20241101080000", "1")})

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pamflow_validation_messages_total{result="valid",validator="pam"} 1`)
}

func TestDecodeMessage(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, base+"/messages/decode", map[string]string{"message": adt("A01", "20241101080000", "1")})
	require.Equal(t, http.StatusOK, rec.Code)

	var body decodeResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, hl7v2.TriggerEvent("A01"), body.Header.TriggerEvent)
	assert.Equal(t, "DOE", body.PID.Family)
	assert.Equal(t, "V001", body.PV1.VisitNumber)

	rec = env.do(t, http.MethodPost, base+"/messages/decode", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSplitBatch(t *testing.T) {
	env := newTestEnv(t, false)
	batch := adt("A01", "20241101080000", "1") + "\r" + adt("A03", "20241101100000", "2")

	rec := env.do(t, http.MethodPost, base+"/messages/split", map[string]string{"batch": batch})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Count)
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, base+"/validate/pam", map[string]string{"message": adt("A01", "20241101080000", "1")})
	require.Equal(t, http.StatusOK, rec.Code)
	var result validation.Result
	decodeBody(t, rec, &result)
	assert.True(t, result.Valid)

	rec = env.do(t, http.MethodPost, base+"/validate/pam", map[string]string{"message": "PID|1||||DOE", "mode": "segment"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &result)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "PID-3", result.Errors[0].Field)

	rec = env.do(t, http.MethodPost, base+"/validate/pam", map[string]string{"message": "PID|1", "mode": "loose"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/validate/mfn", map[string]string{
		"message": "MSH|^~\\&|SRC|FAC|DST|FAC|20241101080000||MFN^M05|1|P|2.5\rLCH|||||ROOM^Room",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &result)
	assert.False(t, result.Valid)
}

func TestCheckTransition(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, base+"/transitions/check", transitionRequest{Incoming: "A03"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, false, body["allowed"])
	assert.Contains(t, body["reason"], "A03 cannot follow no previous event")

	rec = env.do(t, http.MethodPost, base+"/transitions/check", transitionRequest{Incoming: "A03", Relax: true})
	body = nil
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, "A03", body["next"])

	rec = env.do(t, http.MethodPost, base+"/transitions/check", transitionRequest{Previous: "A01", Incoming: "A08"})
	body = nil
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, "A01", body["next"])

	rec = env.do(t, http.MethodPost, base+"/transitions/check", transitionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateIdentifier_Exhaustion(t *testing.T) {
	env := newTestEnv(t, false)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		rec := env.do(t, http.MethodPost, base+"/identifiers/generate", generateRequest{Type: "PI", Persist: true})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var g identifier.Generated
		decodeBody(t, rec, &g)
		assert.Len(t, g.Value, 2)
		assert.False(t, seen[g.Value])
		seen[g.Value] = true
	}

	rec := env.do(t, http.MethodPost, base+"/identifiers/generate", generateRequest{Type: "PI", Persist: true})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/identifiers/generate", generateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateSet(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, base+"/identifiers/sets", map[string]interface{}{"persist": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var set identifier.Set
	decodeBody(t, rec, &set)
	assert.Equal(t, "PI", set.Patient.Type)
	assert.Equal(t, "VN", set.Visit.Type)
	assert.Nil(t, set.Episode)
}

func TestNamespaces(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, base+"/identifiers/namespaces/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []identifier.Namespace
	decodeBody(t, rec, &list)
	assert.Len(t, list, 2)

	rec = env.do(t, http.MethodGet, base+"/identifiers/namespaces/VN/capacity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var capacity map[string]interface{}
	decodeBody(t, rec, &capacity)
	assert.Equal(t, 5.0, capacity["capacity"])
	assert.Equal(t, "range", capacity["mode"])

	rec = env.do(t, http.MethodPut, base+"/identifiers/namespaces/AN", identifier.Namespace{PrefixPattern: "4x.."})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/identifiers/namespaces/AN", identifier.Namespace{PrefixMode: "range", RangeMin: 9, RangeMax: 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/identifiers/namespaces/AN", identifier.Namespace{PrefixMode: "range", RangeMin: 0, RangeMax: math.MaxInt64})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/identifiers/namespaces/AN", identifier.Namespace{System: "urn:oid:1.2.5", PrefixPattern: "4..."})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, base+"/identifiers/namespaces/AN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ns identifier.Namespace
	decodeBody(t, rec, &ns)
	assert.Equal(t, "AN", ns.Type)
	assert.Equal(t, "4...", ns.PrefixPattern)

	rec = env.do(t, http.MethodDelete, base+"/identifiers/namespaces/AN", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, base+"/identifiers/namespaces/AN", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, base+"/identifiers/namespaces/AN", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShiftScenario(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, base+"/scenarios/shift", map[string]interface{}{
		"messages": []string{adt("A01", "20241101080000", "1"), adt("A03", "20241101100000", "2")},
		"shift":    map[string]interface{}{"anchor_mode": "now"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Messages []string `json:"messages"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "20250601120000", hl7v2.ParseHeader(body.Messages[0]).RawTimestamp)
	assert.Equal(t, "20250601140000", hl7v2.ParseHeader(body.Messages[1]).RawTimestamp)

	rec = env.do(t, http.MethodPost, base+"/scenarios/shift-batch", map[string]interface{}{
		"scenarios": [][]string{{adt("A01", "20241101080000", "1")}, {adt("A04", "20230101080000", "1")}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/scenarios/inspect", map[string]interface{}{
		"batch": adt("A01", "20241101080000", "1") + "\r" + adt("A03", "20241101100000", "2"),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var steps []scenario.Step
	decodeBody(t, rec, &steps)
	require.Len(t, steps, 2)
	assert.Equal(t, "A03", steps[1].Trigger)
}

func TestSubstituteIdentifiers(t *testing.T) {
	env := newTestEnv(t, false)
	messages := []string{adt("A01", "20241101080000", "1"), adt("A03", "20241101100000", "2")}

	rec := env.do(t, http.MethodPost, base+"/scenarios/substitute", map[string]interface{}{"messages": messages, "preview": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview struct {
		Messages      []string                `json:"messages"`
		Substitutions []scenario.Substitution `json:"substitutions"`
	}
	decodeBody(t, rec, &preview)
	assert.Nil(t, preview.Messages)
	require.Len(t, preview.Substitutions, 2)

	rec = env.do(t, http.MethodPost, base+"/scenarios/substitute", map[string]interface{}{"messages": messages})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var applied struct {
		Messages      []string                `json:"messages"`
		Substitutions []scenario.Substitution `json:"substitutions"`
	}
	decodeBody(t, rec, &applied)
	require.Len(t, applied.Messages, 2)
	require.Len(t, applied.Substitutions, 2)
	for _, raw := range applied.Messages {
		assert.NotContains(t, raw, "12345")
		assert.NotContains(t, raw, "V001")
	}

	ok, err := env.mem.Exists(context.Background(), applied.Substitutions[0].Replacement, "PI", "urn:oid:1.2.3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayScenario(t *testing.T) {
	t.Run("no destination", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodPost, base+"/scenarios/replay", map[string]interface{}{"messages": []string{adt("A01", "20241101080000", "1")}})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("completed", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, http.MethodPost, base+"/scenarios/replay", map[string]interface{}{
			"messages": []string{adt("A01", "20241101080000", "1"), adt("A03", "20241101100000", "2")},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var report scenario.Report
		decodeBody(t, rec, &report)
		assert.True(t, report.Completed)
		assert.Equal(t, 2, report.Accepted)

		rec = env.do(t, http.MethodGet, base+"/transitions/venues/visit:V001", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var venue map[string]string
		decodeBody(t, rec, &venue)
		assert.Equal(t, "A03", venue["last_trigger"])

		rec = env.do(t, http.MethodDelete, base+"/transitions/venues/visit:V001", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("illegal transition", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, http.MethodPost, base+"/scenarios/replay", map[string]interface{}{
			"messages": []string{adt("A03", "20241101100000", "1")},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `"status":"rejected"`))
		assert.Equal(t, 0, env.sender.sent)

		rec = env.do(t, http.MethodPost, base+"/scenarios/replay", map[string]interface{}{
			"messages": []string{adt("A03", "20241101100000", "1")},
			"relax":    true,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("negative acknowledgment", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.sender.code = "AE"
		rec := env.do(t, http.MethodPost, base+"/scenarios/replay", map[string]interface{}{
			"messages": []string{adt("A01", "20241101080000", "1")},
		})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestInvalidBody(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodPost, base+"/scenarios/shift", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/savegress/pamflow/internal/config"
	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/identifier"
	"github.com/savegress/pamflow/internal/metrics"
	"github.com/savegress/pamflow/internal/scenario"
	"github.com/savegress/pamflow/internal/store"
	"github.com/savegress/pamflow/internal/transition"
	"github.com/savegress/pamflow/internal/validation"
)

const maxBodyBytes = 16 << 20

// Handlers contains all HTTP handlers
type Handlers struct {
	config      *config.Config
	decoder     *hl7v2.Decoder
	pam         *validation.PAMValidator
	mfn         *validation.MFNValidator
	machine     *transition.Machine
	identifiers *identifier.Service
	backend     store.Backend
	venues      store.VenueStore
	engine      *scenario.Engine
	player      *scenario.Player
	metrics     *metrics.Metrics
}

// NewHandlers creates new handlers
func NewHandlers(cfg *config.Config, deps *Dependencies) *Handlers {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handlers{
		config:      cfg,
		decoder:     deps.Decoder,
		pam:         deps.PAM,
		mfn:         deps.MFN,
		machine:     deps.Machine,
		identifiers: deps.Identifiers,
		backend:     deps.Backend,
		venues:      deps.Venues,
		engine:      deps.Engine,
		player:      deps.Player,
		metrics:     deps.Metrics,
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if h.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.backend.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	respond(w, code, map[string]string{
		"status":  status,
		"service": "pamflow",
		"rules":   h.machine.Version(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Message handlers

type messageRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode,omitempty"`
}

// messagesRequest carries a sequence either as a list or as one batch text.
type messagesRequest struct {
	Messages []string `json:"messages"`
	Batch    string   `json:"batch,omitempty"`
}

func (m messagesRequest) sequence() []string {
	if m.Batch != "" {
		return hl7v2.SplitMessages(m.Batch)
	}
	return m.Messages
}

type decodeResponse struct {
	Header hl7v2.Header     `json:"header"`
	PID    hl7v2.DecodedPID `json:"pid"`
	PD1    hl7v2.DecodedPD1 `json:"pd1"`
	PV1    hl7v2.DecodedPV1 `json:"pv1"`
	ZBE    hl7v2.DecodedZBE `json:"zbe"`
	MRG    hl7v2.DecodedMRG `json:"mrg"`
}

// DecodeMessage decodes the segments of one message
func (h *Handlers) DecodeMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	respond(w, http.StatusOK, decodeResponse{
		Header: hl7v2.ParseHeader(req.Message),
		PID:    h.decoder.ParsePID(req.Message),
		PD1:    h.decoder.ParsePD1(req.Message),
		PV1:    h.decoder.ParsePV1(req.Message),
		ZBE:    h.decoder.ParseZBE(req.Message),
		MRG:    h.decoder.ParseMRG(req.Message),
	})
}

// SplitBatch splits a batch on message boundaries
func (h *Handlers) SplitBatch(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if !decode(w, r, &req) {
		return
	}
	messages := hl7v2.SplitMessages(req.Batch)
	respond(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

// Validation handlers

// ValidatePAM validates an ADT message against the PAM rules
func (h *Handlers) ValidatePAM(w http.ResponseWriter, r *http.Request) {
	h.validate(w, r, h.pam)
}

// ValidateMFN validates a location master file message
func (h *Handlers) ValidateMFN(w http.ResponseWriter, r *http.Request) {
	h.validate(w, r, h.mfn)
}

func (h *Handlers) validate(w http.ResponseWriter, r *http.Request, v validation.Validator) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}

	mode := validation.ModeMessage
	switch strings.ToLower(req.Mode) {
	case "", "message":
	case "segment":
		mode = validation.ModeSegment
	default:
		respondError(w, http.StatusBadRequest, "mode must be segment or message")
		return
	}

	result := v.Validate(req.Message, mode)
	if h.metrics != nil {
		h.metrics.ValidationResult(v.Name(), result.Valid, len(result.Errors), len(result.Warnings))
	}
	respond(w, http.StatusOK, result)
}

// Transition handlers

type transitionRequest struct {
	Previous string `json:"previous"`
	Incoming string `json:"incoming"`
	Relax    bool   `json:"relax"`
}

// CheckTransition checks whether an event may follow the previous one
func (h *Handlers) CheckTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Incoming) == "" {
		respondError(w, http.StatusBadRequest, "incoming is required")
		return
	}

	allowed, reason := h.machine.ValidateTransition(req.Previous, req.Incoming, req.Relax)
	if h.metrics != nil {
		switch {
		case req.Relax:
			h.metrics.Transition(metrics.TransitionRelaxed)
		case allowed:
			h.metrics.Transition(metrics.TransitionAllowed)
		default:
			h.metrics.Transition(metrics.TransitionRejected)
		}
	}

	resp := map[string]interface{}{
		"allowed": allowed,
		"version": h.machine.Version(),
	}
	if allowed {
		resp["next"] = h.machine.Next(req.Previous, req.Incoming)
	} else {
		resp["reason"] = reason
	}
	respond(w, http.StatusOK, resp)
}

// GetVenue returns the last accepted trigger of a venue
func (h *Handlers) GetVenue(w http.ResponseWriter, r *http.Request) {
	venue := chi.URLParam(r, "venue")
	last, err := h.venues.LastTrigger(r.Context(), venue)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"venue": venue, "last_trigger": last})
}

// ResetVenue forgets the state of a venue
func (h *Handlers) ResetVenue(w http.ResponseWriter, r *http.Request) {
	if err := h.venues.ResetVenue(r.Context(), chi.URLParam(r, "venue")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Identifier handlers

type generateRequest struct {
	Type    string `json:"type"`
	Persist bool   `json:"persist"`
}

// GenerateIdentifier issues one identifier of a type
func (h *Handlers) GenerateIdentifier(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}

	g, err := h.identifiers.GenerateForType(r.Context(), req.Type, req.Persist)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if req.Persist {
		status = http.StatusCreated
	}
	respond(w, status, g)
}

type setRequest struct {
	identifier.SetTypes
	Persist bool `json:"persist"`
}

// GenerateSet issues a coordinated patient, visit and episode set
func (h *Handlers) GenerateSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Patient == "" {
		req.Patient = h.config.Identifiers.PatientType
	}
	if req.Visit == "" {
		req.Visit = h.config.Identifiers.VisitType
	}

	set, err := h.identifiers.GenerateSet(r.Context(), req.SetTypes, req.Persist)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if req.Persist {
		status = http.StatusCreated
	}
	respond(w, status, set)
}

// ListNamespaces lists the configured namespaces
func (h *Handlers) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := h.backend.Namespaces(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if namespaces == nil {
		namespaces = []identifier.Namespace{}
	}
	respond(w, http.StatusOK, namespaces)
}

// GetNamespace gets a namespace by type
func (h *Handlers) GetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := store.GetNamespace(r.Context(), h.backend, chi.URLParam(r, "type"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, ns)
}

// PutNamespace creates or replaces a namespace
func (h *Handlers) PutNamespace(w http.ResponseWriter, r *http.Request) {
	var ns identifier.Namespace
	if !decode(w, r, &ns) {
		return
	}
	ns.Type = chi.URLParam(r, "type")

	if err := ns.Validate(); err != nil {
		respondServiceError(w, err)
		return
	}
	if err := h.backend.PutNamespace(r.Context(), ns); err != nil {
		respondServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, ns)
}

// DeleteNamespace removes a namespace
func (h *Handlers) DeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.DeleteNamespace(r.Context(), chi.URLParam(r, "type")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCapacity reports how many values a namespace can issue
func (h *Handlers) GetCapacity(w http.ResponseWriter, r *http.Request) {
	ns, err := store.GetNamespace(r.Context(), h.backend, chi.URLParam(r, "type"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	capacity, bounded := h.identifiers.Capacity(ns)
	resp := map[string]interface{}{
		"type":    ns.Type,
		"mode":    ns.Mode(),
		"bounded": bounded,
	}
	if bounded {
		resp["capacity"] = capacity
	}
	respond(w, http.StatusOK, resp)
}

// Scenario handlers

// InspectScenario summarizes a sequence
func (h *Handlers) InspectScenario(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if !decode(w, r, &req) {
		return
	}
	respond(w, http.StatusOK, h.engine.Inspect(req.sequence()))
}

type shiftRequest struct {
	messagesRequest
	Shift scenario.ShiftConfig `json:"shift"`
}

// ShiftScenario moves the timestamps of a sequence
func (h *Handlers) ShiftScenario(w http.ResponseWriter, r *http.Request) {
	var req shiftRequest
	if !decode(w, r, &req) {
		return
	}

	out, err := h.engine.Shift(r.Context(), req.sequence(), req.Shift)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"messages": out})
}

type shiftBatchRequest struct {
	Scenarios [][]string           `json:"scenarios"`
	Shift     scenario.ShiftConfig `json:"shift"`
}

// ShiftBatch shifts independent sequences
func (h *Handlers) ShiftBatch(w http.ResponseWriter, r *http.Request) {
	var req shiftBatchRequest
	if !decode(w, r, &req) {
		return
	}

	out, err := h.engine.ShiftBatch(r.Context(), req.Scenarios, req.Shift)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"scenarios": out})
}

type substituteRequest struct {
	messagesRequest
	PatientType string `json:"patient_type,omitempty"`
	VisitType   string `json:"visit_type,omitempty"`
	Preview     bool   `json:"preview"`
}

// SubstituteIdentifiers replaces patient and visit identifiers of a sequence
func (h *Handlers) SubstituteIdentifiers(w http.ResponseWriter, r *http.Request) {
	var req substituteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PatientType == "" {
		req.PatientType = h.config.Identifiers.PatientType
	}
	if req.VisitType == "" {
		req.VisitType = h.config.Identifiers.VisitType
	}

	ctx := r.Context()
	var ns scenario.Namespaces
	var err error
	if ns.Patient, err = h.identifiers.Resolve(ctx, req.PatientType); err != nil {
		respondServiceError(w, err)
		return
	}
	if ns.Visit, err = h.identifiers.Resolve(ctx, req.VisitType); err != nil {
		respondServiceError(w, err)
		return
	}

	if req.Preview {
		subs, err := h.engine.PreviewSubstitution(ctx, req.sequence(), ns)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]interface{}{"substitutions": subs})
		return
	}

	out, subs, err := h.engine.SubstituteIdentifiers(ctx, req.sequence(), ns)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"messages":      out,
		"substitutions": subs,
	})
}

type replayRequest struct {
	messagesRequest
	Relax   bool `json:"relax"`
	PauseMS int  `json:"pause_ms,omitempty"`
}

// ReplayScenario sends a sequence to the configured receiving system
func (h *Handlers) ReplayScenario(w http.ResponseWriter, r *http.Request) {
	if h.player == nil {
		respondError(w, http.StatusServiceUnavailable, "no replay destination configured")
		return
	}

	var req replayRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := h.player.Play(r.Context(), req.sequence(), scenario.PlayOptions{
		Relax: req.Relax,
		Pause: time.Duration(req.PauseMS) * time.Millisecond,
	})
	if err != nil {
		respond(w, statusFor(err), map[string]interface{}{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	respond(w, http.StatusOK, report)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var ackErr *scenario.AckError
	switch {
	case errors.Is(err, transition.ErrIllegalTransition),
		errors.Is(err, identifier.ErrPoolExhausted),
		errors.Is(err, identifier.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, identifier.ErrInvalidPattern),
		errors.Is(err, identifier.ErrInvalidRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scenario.ErrNoIdentifierService):
		return http.StatusServiceUnavailable
	case errors.As(err, &ackErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

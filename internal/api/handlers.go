package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rcliao/adaptive-memory/internal/engine"
	"github.com/rcliao/adaptive-memory/internal/logger"
	"github.com/rcliao/adaptive-memory/internal/memory"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/preference"
	"github.com/rcliao/adaptive-memory/internal/store"
)

type handler struct {
	engine   *engine.Engine
	log      logger.Logger
	validate *validator.Validate
}

func newHandler(e *engine.Engine, log logger.Logger) *handler {
	v := validator.New()
	// Report JSON field names in error details.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &handler{engine: e, log: log, validate: v}
}

// decode reads an optional JSON body into dst and validates it.
func (h *handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadBody{err}
	}
	return h.validate.Struct(dst)
}

type errBadBody struct{ err error }

func (e errBadBody) Error() string { return "invalid request body: " + e.err.Error() }

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var bad errBadBody
	if errors.As(err, &bad) {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, bad.Error(), nil)
		return
	}
	h.handleError(w, r, err)
}

func userID(r *http.Request) string {
	return chi.URLParam(r, "userID")
}

type storeMemoryRequest struct {
	Content    string            `json:"content" validate:"required"`
	Kind       model.Kind        `json:"kind" validate:"required,oneof=episodic semantic procedural"`
	Importance float64           `json:"importance" validate:"gte=0,lte=1"`
	Tags       []string          `json:"tags,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// storeMemory handles POST /api/v1/users/{userID}/memories.
func (h *handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	req := storeMemoryRequest{Importance: 0.5}
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.engine.StoreMemory(r.Context(), memory.StoreParams{
		UserID:     userID(r),
		Content:    req.Content,
		Kind:       req.Kind,
		Importance: req.Importance,
		Tags:       req.Tags,
		Meta:       req.Meta,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// searchMemories handles GET /api/v1/users/{userID}/memories/search.
func (h *handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := memory.RetrieveParams{
		UserID:        userID(r),
		Query:         q.Get("q"),
		Kinds:         parseKinds(q.Get("kind")),
		RecencyWeight: h.engine.Config().Retrieval.RecencyWeight,
	}
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "top_k must be a positive integer", nil)
			return
		}
		p.TopK = n
	}
	if v := q.Get("recency_weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "recency_weight must be within [0,1]", nil)
			return
		}
		p.RecencyWeight = f
	}
	results, err := h.engine.Memory().Retrieve(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func parseKinds(s string) []model.Kind {
	var kinds []model.Kind
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, model.Kind(k))
		}
	}
	return kinds
}

// consolidate handles POST /api/v1/users/{userID}/memories/consolidate.
func (h *handler) consolidate(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Consolidate(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"merged": n})
}

type forgetRequest struct {
	Threshold float64 `json:"threshold" validate:"gte=0,lte=1"`
}

// forget handles POST /api/v1/users/{userID}/memories/forget. A missing
// threshold uses the configured one.
func (h *handler) forget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.engine.Forget(r.Context(), userID(r), req.Threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"forgotten": n})
}

type contextRequest struct {
	Query     string            `json:"query"`
	Kinds     []model.Kind      `json:"kinds,omitempty" validate:"dive,oneof=episodic semantic procedural"`
	Situation map[string]string `json:"situation,omitempty"`
	Budget    int               `json:"budget" validate:"gte=0"`
}

// assembleContext handles POST /api/v1/users/{userID}/context.
func (h *handler) assembleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.Memory().Assemble(r.Context(), h.engine.Preferences(), memory.ContextParams{
		UserID:    userID(r),
		Query:     req.Query,
		Kinds:     req.Kinds,
		Situation: req.Situation,
		Budget:    req.Budget,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type preferenceRequest struct {
	Category   string                 `json:"category"`
	Text       string                 `json:"text" validate:"required"`
	Strength   float64                `json:"strength" validate:"gte=0,lte=1"`
	Confidence float64                `json:"confidence" validate:"gte=0,lte=1"`
	Source     model.PreferenceSource `json:"source" validate:"omitempty,oneof=explicit learned inferred"`
	Examples   []string               `json:"examples,omitempty"`
}

type preferenceResponse struct {
	Preference *model.Preference `json:"preference"`
	Merged     bool              `json:"merged"`
}

// addPreference handles POST /api/v1/users/{userID}/preferences.
func (h *handler) addPreference(w http.ResponseWriter, r *http.Request) {
	req := preferenceRequest{Strength: 0.5, Confidence: 0.5}
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, merged, err := h.engine.AddPreference(r.Context(), preference.AddParams{
		UserID:     userID(r),
		Category:   req.Category,
		Text:       req.Text,
		Strength:   req.Strength,
		Confidence: req.Confidence,
		Source:     req.Source,
		Examples:   req.Examples,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	writeJSON(w, status, preferenceResponse{Preference: p, Merged: merged})
}

// listPreferences handles GET /api/v1/users/{userID}/preferences.
func (h *handler) listPreferences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minStrength := 0.0
	if v := q.Get("min_strength"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "min_strength must be a number", nil)
			return
		}
		minStrength = f
	}
	prefs, err := h.engine.Preferences().Preferences(r.Context(), userID(r), q.Get("category"), minStrength)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if prefs == nil {
		prefs = []model.Preference{}
	}
	writeJSON(w, http.StatusOK, prefs)
}

// relevantPreferences handles GET /api/v1/users/{userID}/preferences/relevant.
// Every query parameter becomes one situation entry.
func (h *handler) relevantPreferences(w http.ResponseWriter, r *http.Request) {
	situation := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			situation[k] = strings.Join(v, " ")
		}
	}
	scored, err := h.engine.Preferences().QueryRelevant(r.Context(), userID(r), situation)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if scored == nil {
		scored = []preference.Scored{}
	}
	writeJSON(w, http.StatusOK, scored)
}

type discomfortRequest struct {
	Action map[string]string `json:"action" validate:"required,min=1"`
}

// discomfort handles POST /api/v1/users/{userID}/discomfort.
func (h *handler) discomfort(w http.ResponseWriter, r *http.Request) {
	var req discomfortRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	violations, err := h.engine.Preferences().PredictDiscomfort(r.Context(), userID(r), req.Action)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if violations == nil {
		violations = []preference.Violation{}
	}
	writeJSON(w, http.StatusOK, violations)
}

// submitFeedback handles POST /api/v1/users/{userID}/feedback.
func (h *handler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var ev model.FeedbackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.fail(w, r, errBadBody{err})
		return
	}
	ev.UserID = userID(r)
	if err := h.validate.Struct(&ev); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.engine.ProcessFeedback(r.Context(), &ev)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// submitInteraction handles POST /api/v1/users/{userID}/interactions.
func (h *handler) submitInteraction(w http.ResponseWriter, r *http.Request) {
	var ev model.InteractionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.fail(w, r, errBadBody{err})
		return
	}
	ev.UserID = userID(r)
	if err := h.validate.Struct(&ev); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.engine.ProcessInteraction(r.Context(), &ev)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// rehearse handles POST /api/v1/users/{userID}/rehearsals.
func (h *handler) rehearse(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Rehearse(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rehearsed": n})
}

// stats handles GET /api/v1/users/{userID}/stats.
func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// updates handles GET /api/v1/users/{userID}/updates.
func (h *handler) updates(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	records, err := h.engine.Updates(r.Context(), userID(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []store.UpdateRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/*
handlers.go - HTTP API handlers for the payout engine

PURPOSE:
  Exposes the Version Store and the Reconciler via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Imports (reconciliation):
    POST   /api/imports                      Diff a JSON feed against the latest version
    POST   /api/imports/xlsx                 Same, from feed workbooks (multipart)
    GET    /api/imports/{id}                 Attempt under review
    POST   /api/imports/{id}/apply           Materialize selected changes
    DELETE /api/imports/{id}                 Discard

  Periods:
    GET    /api/periods                      List, newest first
    GET    /api/periods/{id}                 Period with its versions
    POST   /api/periods/{id}/status          draft -> sent -> paid (and back)
    DELETE /api/periods/{id}                 Admin only

  Versions:
    GET    /api/versions/{id}                Version with lines and statements
    GET    /api/versions/{id}/totals         Worker statements
    GET    /api/versions/{id}/totals/{worker}
    GET    /api/versions/{id}/edits          Manual edit audit
    GET    /api/versions/{id}/changes        Change log against the previous version
    GET    /api/versions/{id}/alarms         Lines flagged for review
    GET    /api/versions/{id}/report.xlsx    Workbook (?worker=, ?for_workers=true)
    POST   /api/versions/{id}/recalculate    Rebuild worker totals
    POST   /api/versions/{id}/orders         Add a feed-style or manual line

  Lines:
    PUT    /api/orders/{id}                  Edit order code / address
    DELETE /api/orders/{id}
    POST   /api/calculations/{id}            Manual edit of one calculated field

ERROR HANDLING:
  Errors are classified with payout.KindOf and returned as
  {"error": {"kind": ..., "message": ...}}; see errors.go for statuses.

SECURITY:
  Every route except /api/healthz requires a bearer JWT (auth.go). The
  actor's role is enforced by the engine; handlers only block viewers from
  calls that do not reach an authorization check.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/payout-engine/factory"
	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/feed"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/reconcile"
	"github.com/warp/payout-engine/report"
)

const (
	defaultMaxUploadBytes = 32 << 20
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Versions   *payout.VersionStore
	Reconciler *reconcile.Reconciler
	Tariffs    *factory.TariffFactory
	Metrics    *Metrics
	Logger     *slog.Logger

	// MaxUploadBytes caps request bodies; zero means 32 MiB.
	MaxUploadBytes int64

	// Health reports readiness of the backing store. Nil means always ready.
	Health func(ctx context.Context) error

	validate *validator.Validate
}

// NewHandler creates a handler. The tariff factory's validator is shared so
// request DTOs validate decimals the same way tariffs do.
func NewHandler(versions *payout.VersionStore, rec *reconcile.Reconciler, tariffs *factory.TariffFactory) *Handler {
	if tariffs == nil {
		tariffs = factory.NewTariffFactory()
	}
	return &Handler{
		Versions:   versions,
		Reconciler: rec,
		Tariffs:    tariffs,
		validate:   tariffs.Validator(),
	}
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// CreateImport diffs a JSON feed against the latest version of its period.
func (h *Handler) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.begin(w, r, reconcile.Import{
		PeriodName:     req.PeriodName,
		Month:          time.Month(req.Month),
		Year:           req.Year,
		Items:          req.Items,
		FuelDeductions: req.FuelDeductions,
	})
}

// UploadImport reads feed workbooks from a multipart form:
//
//	orders       required, orders under the diagnostic threshold
//	orders_over  optional, orders over the threshold
//	fuel_card    optional, fuel-card statement
//	period_name, month, year  optional, override what the workbook says
func (h *Handler) UploadImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
	if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
		h.writeError(w, r, invalid(fmt.Errorf("multipart form: %w", err)))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	orders, err := formFile(r, "orders", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer orders.Close()
	sources := []feed.Source{{Reader: orders}}

	over, err := formFile(r, "orders_over", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if over != nil {
		defer over.Close()
		sources = append(sources, feed.Source{Reader: over, OverThreshold: true})
	}

	imp, err := feed.ParseOrders(sources...)
	if err != nil {
		h.writeError(w, r, invalid(err))
		return
	}
	if err := overridePeriod(r, &imp); err != nil {
		h.writeError(w, r, err)
		return
	}

	fuel, err := formFile(r, "fuel_card", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if fuel != nil {
		defer fuel.Close()
		workers := make([]string, 0, len(imp.Items))
		for _, it := range imp.Items {
			workers = append(workers, it.Worker)
		}
		deductions, err := feed.ParseFuelCard(fuel, h.defaultConfig().FuelCardDeductionRate, feed.BuildNameMap(workers))
		if err != nil {
			h.writeError(w, r, invalid(err))
			return
		}
		imp.FuelDeductions = deductions
	}

	h.begin(w, r, imp)
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request, imp reconcile.Import) {
	actor := actorOf(r)
	if len(imp.FuelDeductions) > 0 && !feed.SecondHalf(imp.PeriodName) {
		imp.Warnings = append(imp.Warnings, payout.Warning{
			Kind:    payout.KindInvalidInput,
			Message: fmt.Sprintf("fuel-card deductions ignored: period %q is not a second-half period", imp.PeriodName),
		})
		imp.FuelDeductions = nil
	}

	a, err := h.Reconciler.Begin(r.Context(), actor, imp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Metrics.observeImport(string(a.State))
	writeJSON(w, http.StatusCreated, toAttemptDTO(a))
}

func (h *Handler) GetImport(w http.ResponseWriter, r *http.Request) {
	a, err := h.Reconciler.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptDTO(a))
}

// ApplyImport materializes an attempt. Without a selection every detected
// change is applied.
func (h *Handler) ApplyImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ApplyRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var d reconcile.Decision
	if req.Selection != nil {
		d.Selection = *req.Selection
	} else {
		a, err := h.Reconciler.Sessions.Get(id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		d.Selection = reconcile.SelectAll(a.Diff)
	}
	for _, e := range req.RestoreEditIDs {
		d.RestoreEditIDs = append(d.RestoreEditIDs, payout.EditID(e))
	}
	if req.Tariff != nil {
		cfg, err := h.Tariffs.FromJSON(*req.Tariff)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		d.Config = &cfg
	}

	out, err := h.Reconciler.Apply(r.Context(), actorOf(r), id, d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Metrics.observeImport(string(reconcile.StateMaterialized))
	writeJSON(w, http.StatusCreated, toOutcomeDTO(out))
}

func (h *Handler) DiscardImport(w http.ResponseWriter, r *http.Request) {
	if err := requireWriter(actorOf(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Reconciler.Discard(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Metrics.observeImport(string(reconcile.StateDiscarded))
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Versions.Periods(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id := payout.PeriodID(chi.URLParam(r, "id"))
	p, err := h.Versions.Period(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	versions, err := h.Versions.Versions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := PeriodDetailDTO{PeriodDTO: toPeriodDTO(*p), Versions: make([]VersionDTO, len(versions))}
	for i, v := range versions {
		dto.Versions[i] = toVersionDTO(v)
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) SetPeriodStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Versions.TransitionPeriod(r.Context(), actorOf(r),
		payout.PeriodID(chi.URLParam(r, "id")), payout.PeriodStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	if err := h.Versions.DeletePeriod(r.Context(), actorOf(r), payout.PeriodID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// VERSION HANDLERS
// =============================================================================

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := versionID(r)
	v, err := h.Versions.Version(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lines, err := h.Versions.Lines(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	statements, err := h.statements(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VersionDetailDTO{
		VersionDTO: toVersionDTO(*v),
		Lines:      toLineDTOs(lines),
		Statements: statements,
	})
}

// GetTotals returns one statement per worker. Stored totals are verified
// first; drift is repaired before the response is built.
func (h *Handler) GetTotals(w http.ResponseWriter, r *http.Request) {
	statements, err := h.statements(r.Context(), versionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statements)
}

func (h *Handler) GetWorkerTotal(w http.ResponseWriter, r *http.Request) {
	worker := chi.URLParam(r, "worker")
	statements, err := h.statements(r.Context(), versionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for _, s := range statements {
		if s.Worker == worker {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	h.writeError(w, r, &payout.NotFoundError{Entity: "worker total", ID: worker})
}

func (h *Handler) ListEdits(w http.ResponseWriter, r *http.Request) {
	edits, err := h.Versions.ManualEdits(r.Context(), versionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]EditDTO, len(edits))
	for i, e := range edits {
		dtos[i] = toEditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Versions.Changes(r.Context(), versionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ChangeDTO, len(changes))
	for i, c := range changes {
		dtos[i] = toChangeDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListAlarms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := versionID(r)
	v, err := h.Versions.Version(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cfg, err := fee.ConfigFromVersion(v.Config.Tariff)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lines, err := h.Versions.Lines(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	alarms := fee.Alarms(lines, cfg)
	if alarms == nil {
		alarms = []fee.Alarm{}
	}
	writeJSON(w, http.StatusOK, alarms)
}

// GetReport streams the version workbook, or one worker's sheet with ?worker=.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := versionID(r)
	v, err := h.Versions.Version(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Versions.Period(ctx, v.PeriodID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lines, err := h.Versions.Lines(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	statements, err := h.Versions.Statements(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := report.Data{Period: *p, Version: *v, Statements: statements, Lines: lines}
	opts := report.Options{ForWorkers: r.URL.Query().Get("for_workers") == "true"}
	name := fmt.Sprintf("payout %s v%d", p.Name, v.Sequence)

	var body []byte
	if worker := r.URL.Query().Get("worker"); worker != "" {
		body, err = report.BuildWorker(data, worker, opts)
		name += " " + worker
	} else {
		body, err = report.Build(data, opts)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name + ".xlsx"}))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if err := requireWriter(actorOf(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	id := versionID(r)
	if _, err := h.Versions.ForceRecalculate(ctx, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger().InfoContext(ctx, "totals recalculated", "version_id", id, "actor", actorOf(r).Name)
	statements, err := h.Versions.Statements(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTOs(statements))
}

// AddOrder adds a line to a version. Feed-style orders are priced with the
// version's tariff; manual rows carry a fixed total.
func (h *Handler) AddOrder(w http.ResponseWriter, r *http.Request) {
	var req AddOrderRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	actor := actorOf(r)
	id := versionID(r)

	var (
		line     *payout.Line
		warnings []payout.Warning
		err      error
	)
	if req.Manual {
		if req.Total == nil {
			h.writeError(w, r, invalid(errors.New("total: required for manual rows")))
			return
		}
		line, err = h.Versions.AddManualRow(ctx, actor, id, payout.ManualRow{
			Worker:          req.Worker,
			OrderCode:       req.OrderCode,
			Description:     req.Description,
			Address:         req.Address,
			IsClientPayment: req.IsClientPayment,
			Total:           *req.Total,
		})
	} else {
		line, warnings, err = h.Reconciler.AddOrder(ctx, actor, id, req.LineItem)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if warnings == nil {
		warnings = []payout.Warning{}
	}
	writeJSON(w, http.StatusCreated, AddOrderResponse{Line: toLineDTO(*line), Warnings: warnings})
}

// =============================================================================
// LINE HANDLERS
// =============================================================================

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	o, err := h.Versions.UpdateOrderInfo(ctx, actorOf(r), payout.OrderID(chi.URLParam(r, "id")), payout.OrderInfo{
		OrderCode: req.OrderCode,
		Address:   req.Address,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	line, err := h.line(ctx, o.VersionID, o.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Versions.DeleteOrder(r.Context(), actorOf(r), payout.OrderID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EditCalculation overrides one calculated field. Setting a field to its
// current value records nothing and returns 204.
func (h *Handler) EditCalculation(w http.ResponseWriter, r *http.Request) {
	var req CalculationEditRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	edit, err := h.Versions.UpdateCalculationField(r.Context(), actorOf(r),
		payout.CalculationID(chi.URLParam(r, "id")), payout.CalcField(req.Field), *req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if edit == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toEditDTO(*edit))
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			h.logger().WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.maxUpload())
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid(errors.New("request body is empty"))
		}
		return invalid(fmt.Errorf("decode body: %w", err))
	}
	if err := h.validate.Struct(dst); err != nil {
		return invalid(err)
	}
	return nil
}

// statements verifies the stored totals of a version, repairing drift, and
// returns its worker statements.
func (h *Handler) statements(ctx context.Context, id payout.VersionID) ([]StatementDTO, error) {
	drift, err := h.Versions.VerifyTotals(ctx, id)
	if err != nil {
		return nil, err
	}
	if drift != nil {
		h.logger().WarnContext(ctx, "worker totals drifted, recalculated",
			"version_id", id,
			"workers", drift.Workers,
		)
	}
	statements, err := h.Versions.Statements(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStatementDTOs(statements), nil
}

func (h *Handler) line(ctx context.Context, vid payout.VersionID, oid payout.OrderID) (*payout.Line, error) {
	lines, err := h.Versions.Lines(ctx, vid)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if l.Order.ID == oid {
			return &l, nil
		}
	}
	return nil, &payout.NotFoundError{Entity: "order", ID: string(oid)}
}

func (h *Handler) defaultConfig() fee.Config {
	if h.Reconciler != nil && h.Reconciler.DefaultConfig != nil {
		return *h.Reconciler.DefaultConfig
	}
	return fee.DefaultConfig()
}

func (h *Handler) maxUpload() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

func actorOf(r *http.Request) payout.Actor {
	actor, _ := ActorFrom(r.Context())
	return actor
}

func versionID(r *http.Request) payout.VersionID {
	return payout.VersionID(chi.URLParam(r, "id"))
}

// requireWriter blocks viewers from calls the engine does not authorize.
func requireWriter(actor payout.Actor) error {
	switch actor.Role {
	case payout.RoleAdmin, payout.RoleManager:
		return nil
	}
	return fmt.Errorf("%w: %s is read-only", payout.ErrForbidden, actor.Name)
}

func formFile(r *http.Request, field string, required bool) (multipart.File, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		if required {
			return nil, invalid(fmt.Errorf("%s: workbook is required", field))
		}
		return nil, nil
	}
	if err != nil {
		return nil, invalid(fmt.Errorf("%s: %w", field, err))
	}
	return f, nil
}

// overridePeriod applies period_name, month and year form values over what
// the workbook declared.
func overridePeriod(r *http.Request, imp *reconcile.Import) error {
	if name := r.FormValue("period_name"); name != "" {
		imp.PeriodName = name
	}
	if raw := r.FormValue("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > 12 {
			return invalid(fmt.Errorf("month: %q is not 1-12", raw))
		}
		imp.Month = time.Month(m)
	}
	if raw := r.FormValue("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			return invalid(fmt.Errorf("year: %q is not a number", raw))
		}
		imp.Year = y
	}
	if imp.PeriodName == "" {
		return invalid(errors.New("period_name: not found in workbook"))
	}
	return nil
}

/*
handlers_test.go - End-to-end tests for API handlers

Tests for:
- Import review flow (begin, apply, discard)
- Role and period-status enforcement through HTTP
- Error envelope and status mapping
- Version reads: totals, statements, alarms, report
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payout/store"
	"github.com/warp/payout-engine/reconcile"
)

var (
	admin   = payout.Actor{ID: "u-admin", Name: "Admin", Role: payout.RoleAdmin}
	manager = payout.Actor{ID: "u-mgr", Name: "Manager", Role: payout.RoleManager}
	viewer  = payout.Actor{ID: "u-view", Name: "Viewer", Role: payout.RoleViewer}
)

const testSecret = "test-secret"

type distanceStub map[string]decimal.Decimal

func (d distanceStub) DistanceKm(_ context.Context, address string) (decimal.Decimal, error) {
	km, ok := d[address]
	if !ok {
		return decimal.Zero, &payout.UnresolvableAddressError{Address: address}
	}
	return km, nil
}

type testServer struct {
	t        *testing.T
	router   http.Handler
	auth     *api.Auth
	versions *payout.VersionStore
	sessions *reconcile.SessionStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	versions := payout.NewVersionStore(store.NewMemory())
	sessions := reconcile.NewSessionStore(time.Hour, nil)
	rec := &reconcile.Reconciler{
		Versions:  versions,
		Sessions:  sessions,
		Distances: distanceStub{"Moscow, A": dec("7"), "Moscow, B": dec("3")},
	}
	h := api.NewHandler(versions, rec, nil)
	h.Metrics = api.NewMetrics()
	auth := &api.Auth{Secret: []byte(testSecret)}
	return &testServer{
		t:        t,
		router:   api.NewRouter(h, api.RouterOptions{Auth: auth, CORSOrigins: []string{"http://localhost:5173"}}),
		auth:     auth,
		versions: versions,
		sessions: sessions,
	}
}

// do sends a JSON request as actor. A nil actor sends no token.
func (s *testServer) do(method, path string, actor *payout.Actor, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := s.auth.IssueToken(*actor, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind payout.Kind) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeBody[api.ErrorBody](t, rec)
	assert.Equal(t, kind, body.Error.Kind)
	assert.NotEmpty(t, body.Error.Message)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func item(code, worker, payment string) reconcile.LineItem {
	return reconcile.LineItem{
		Worker:          worker,
		OrderCode:       code,
		Address:         "Moscow, " + code,
		RevenueServices: dec("5000"),
		ServicePayment:  dec(payment),
		Percent:         "30,00 %",
	}
}

func importRequest(period string, items ...reconcile.LineItem) api.ImportRequest {
	return api.ImportRequest{PeriodName: period, Month: 11, Year: 2025, Items: items}
}

// importAndApply runs a full import as actor and returns the outcome.
func (s *testServer) importAndApply(actor payout.Actor, req api.ImportRequest) api.OutcomeDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/imports", &actor, req)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	attempt := decodeBody[api.AttemptDTO](s.t, rec)

	rec = s.do(http.MethodPost, "/api/imports/"+attempt.ID+"/apply", &actor, api.ApplyRequest{})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.OutcomeDTO](s.t, rec)
}

// =============================================================================
// HEALTH AND AUTH
// =============================================================================

func TestHealthz_IsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/periods", nil, nil)

	requireKind(t, rec, http.StatusUnauthorized, "unauthorized")
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestMetrics_CountsRequests(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/healthz", nil, nil)

	rec := s.do(http.MethodGet, "/metrics", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `payout_http_requests_total{code="200",route="/api/healthz"} 1`)
}

// =============================================================================
// IMPORT FLOW
// =============================================================================

func TestImport_BeginApplyAndReadTotals(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: A manager submits the first feed of a period
	rec := s.do(http.MethodPost, "/api/imports", &manager,
		importRequest("01-15.11.25", item("A", "Иванов Иван", "1000"), item("B", "Иванов Иван", "2000")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	attempt := decodeBody[api.AttemptDTO](t, rec)

	// THEN: Everything is an addition, nothing is stored yet
	assert.Equal(t, "diffed", attempt.State)
	assert.Len(t, attempt.Diff.Added, 2)
	assert.Empty(t, attempt.PrevVersionID)

	rec = s.do(http.MethodGet, "/api/imports/"+attempt.ID, &manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN: The manager accepts every change
	rec = s.do(http.MethodPost, "/api/imports/"+attempt.ID+"/apply", &manager, api.ApplyRequest{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody[api.OutcomeDTO](t, rec)

	// THEN: Version 1 holds both lines with fuel from the stock tariff
	assert.Equal(t, 1, out.Version.Sequence)
	assert.Equal(t, 2, out.Changes)

	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals", &viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	statements := decodeBody[[]api.StatementDTO](t, rec)
	require.Len(t, statements, 1)
	// 1000 + 150 (7 km) + 2000 + 100 (3 km)
	assert.True(t, dec("3250").Equal(statements[0].TotalAmount), statements[0].TotalAmount.String())
	assert.True(t, dec("250").Equal(statements[0].FuelTotal))
	assert.True(t, statements[0].Net.Equal(statements[0].TotalAmount))

	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals/"+url.PathEscape("Иванов Иван"), &viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[api.StatementDTO](t, rec).OrdersCount)

	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals/Nobody", &viewer, nil)
	requireKind(t, rec, http.StatusNotFound, payout.KindNotFound)
}

func TestImport_SecondImportDiffsAgainstLatest(t *testing.T) {
	s := newTestServer(t)
	first := s.importAndApply(manager, importRequest("01-15.11.25", item("A", "W", "1000"), item("B", "W", "2000")))

	// GIVEN: A second feed changes A and drops B
	rec := s.do(http.MethodPost, "/api/imports", &manager, importRequest("01-15.11.25", item("A", "W", "1200")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	attempt := decodeBody[api.AttemptDTO](t, rec)

	assert.Equal(t, first.Version.ID, attempt.PrevVersionID)
	require.Len(t, attempt.Diff.Modified, 1)
	assert.Equal(t, "A|W", attempt.Diff.Modified[0].Key)
	require.Len(t, attempt.Diff.Deleted, 1)

	// WHEN: Only the modification is accepted
	sel := reconcile.Selection{Modified: []string{"A|W"}}
	rec = s.do(http.MethodPost, "/api/imports/"+attempt.ID+"/apply", &manager, api.ApplyRequest{Selection: &sel})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody[api.OutcomeDTO](t, rec)

	// THEN: B survives and the change log records one modification
	assert.Equal(t, 2, out.Version.Sequence)
	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID, &viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[api.VersionDetailDTO](t, rec)
	assert.Len(t, detail.Lines, 2)

	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/changes", &viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	changes := decodeBody[[]api.ChangeDTO](t, rec)
	require.NotEmpty(t, changes)
	for _, c := range changes {
		assert.Equal(t, "modified", c.Type)
		assert.Equal(t, "A|W", c.OrderKey)
	}

	rec = s.do(http.MethodGet, "/api/periods/"+out.Version.PeriodID, &viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[api.PeriodDetailDTO](t, rec).Versions, 2)
}

func TestImport_Rejections(t *testing.T) {
	s := newTestServer(t)

	t.Run("empty feed", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/imports", &manager, importRequest("01-15.11.25"))
		requireKind(t, rec, http.StatusUnprocessableEntity, payout.KindEmptyImport)
	})
	t.Run("bad month", func(t *testing.T) {
		req := importRequest("01-15.11.25", item("A", "W", "1"))
		req.Month = 13
		rec := s.do(http.MethodPost, "/api/imports", &manager, req)
		requireKind(t, rec, http.StatusBadRequest, payout.KindInvalidInput)
		assert.Contains(t, rec.Body.String(), "month")
	})
	t.Run("item without worker", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/imports", &manager, importRequest("01-15.11.25", item("A", "", "1")))
		requireKind(t, rec, http.StatusBadRequest, payout.KindInvalidInput)
	})
	t.Run("malformed body", func(t *testing.T) {
		token, err := s.auth.IssueToken(manager, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(`{"items": [`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		requireKind(t, rec, http.StatusBadRequest, payout.KindInvalidInput)
	})
	t.Run("viewer", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/imports", &viewer, importRequest("01-15.11.25", item("A", "W", "1")))
		requireKind(t, rec, http.StatusForbidden, payout.KindForbidden)
	})
	t.Run("unknown attempt", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/imports/nope/apply", &manager, api.ApplyRequest{})
		requireKind(t, rec, http.StatusNotFound, payout.KindNotFound)
	})
}

func TestImport_DiscardedCannotBeApplied(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/imports", &manager, importRequest("01-15.11.25", item("A", "W", "1")))
	require.Equal(t, http.StatusCreated, rec.Code)
	attempt := decodeBody[api.AttemptDTO](t, rec)

	rec = s.do(http.MethodDelete, "/api/imports/"+attempt.ID, &viewer, nil)
	requireKind(t, rec, http.StatusForbidden, payout.KindForbidden)

	rec = s.do(http.MethodDelete, "/api/imports/"+attempt.ID, &manager, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodPost, "/api/imports/"+attempt.ID+"/apply", &manager, api.ApplyRequest{})
	requireKind(t, rec, http.StatusConflict, payout.KindConflict)

	periods, err := s.versions.Periods(context.Background())
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestImport_FuelDeductionsOnlyInSecondHalf(t *testing.T) {
	s := newTestServer(t)
	deductions := map[string]decimal.Decimal{"W": dec("450")}

	// GIVEN: Deductions on a first-half period
	req := importRequest("01-15.11.25", item("A", "W", "1000"))
	req.FuelDeductions = deductions
	rec := s.do(http.MethodPost, "/api/imports", &manager, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	attempt := decodeBody[api.AttemptDTO](t, rec)

	// THEN: They are dropped with a warning
	assert.Empty(t, attempt.FuelDeductions)
	require.Len(t, attempt.Warnings, 1)
	assert.Contains(t, attempt.Warnings[0].Message, "fuel-card deductions ignored")

	// GIVEN: The same deductions on a second-half period
	req = importRequest("16-30.11.25", item("A", "W", "1000"))
	req.FuelDeductions = deductions
	out := s.importAndApply(manager, req)

	// THEN: The statement nets them out
	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals/W", &manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[api.StatementDTO](t, rec)
	assert.True(t, dec("1150").Equal(st.TotalAmount))
	assert.True(t, dec("450").Equal(st.FuelDeduction))
	assert.True(t, dec("700").Equal(st.Net))
}

func TestImport_TariffOverride(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/imports", &manager, importRequest("01-15.11.25", item("A", "W", "1000")))
	require.Equal(t, http.StatusCreated, rec.Code)
	attempt := decodeBody[api.AttemptDTO](t, rec)

	// WHEN: Applying with a flat fuel tariff of 500
	body := `{"tariff": {"fuel_tariff": [{"up_to_km": 1000, "payment": 500}]}}`
	token, err := s.auth.IssueToken(manager, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/imports/"+attempt.ID+"/apply", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	s.router.ServeHTTP(res, req)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	out := decodeBody[api.OutcomeDTO](t, res)

	// THEN: Fees use the override
	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals/W", &manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, dec("1500").Equal(decodeBody[api.StatementDTO](t, rec).TotalAmount))
}

// =============================================================================
// EDITS AND PERIOD LIFECYCLE
// =============================================================================

func TestCalculationEdit_RespectsPeriodStatus(t *testing.T) {
	s := newTestServer(t)
	out := s.importAndApply(manager, importRequest("01-15.11.25", item("A", "W", "1000")))

	rec := s.do(http.MethodGet, "/api/versions/"+out.Version.ID, &manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	line := decodeBody[api.VersionDetailDTO](t, rec).Lines[0]
	editPath := "/api/calculations/" + line.CalculationID

	// WHEN: A manager overrides the total of a draft line
	value := dec("1500")
	rec = s.do(http.MethodPost, editPath, &manager, api.CalculationEditRequest{Field: "total", Value: &value})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edit := decodeBody[api.EditDTO](t, rec)

	// THEN: The edit is audited and the totals follow
	assert.True(t, dec("1150").Equal(edit.OldValue))
	assert.True(t, dec("1500").Equal(edit.NewValue))
	assert.Equal(t, "Manager", edit.ActorName)
	assert.Equal(t, "draft", edit.PeriodStatus)

	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals/W", &manager, nil)
	assert.True(t, dec("1500").Equal(decodeBody[api.StatementDTO](t, rec).TotalAmount))

	// Same value again records nothing
	rec = s.do(http.MethodPost, editPath, &manager, api.CalculationEditRequest{Field: "total", Value: &value})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/edits", &manager, nil)
	assert.Len(t, decodeBody[[]api.EditDTO](t, rec), 1)

	// WHEN: The manager sends the period
	statusPath := "/api/periods/" + out.Version.PeriodID + "/status"
	rec = s.do(http.MethodPost, statusPath, &viewer, api.StatusRequest{Status: "sent"})
	requireKind(t, rec, http.StatusForbidden, payout.KindForbidden)
	rec = s.do(http.MethodPost, statusPath, &manager, api.StatusRequest{Status: "sent"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, decodeBody[api.PeriodDTO](t, rec).SentAt)

	// THEN: Managers are locked out, admins are not
	other := dec("1600")
	rec = s.do(http.MethodPost, editPath, &manager, api.CalculationEditRequest{Field: "total", Value: &other})
	requireKind(t, rec, http.StatusLocked, payout.KindPeriodLocked)
	rec = s.do(http.MethodPost, statusPath, &manager, api.StatusRequest{Status: "draft"})
	requireKind(t, rec, http.StatusLocked, payout.KindPeriodLocked)
	rec = s.do(http.MethodPost, editPath, &admin, api.CalculationEditRequest{Field: "total", Value: &other})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sent", decodeBody[api.EditDTO](t, rec).PeriodStatus)

	// Illegal jumps are conflicts
	rec = s.do(http.MethodPost, statusPath, &admin, api.StatusRequest{Status: "paid"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, statusPath, &admin, api.StatusRequest{Status: "draft"})
	requireKind(t, rec, http.StatusConflict, payout.KindInvalidTransition)
}

func TestCalculationEdit_RejectsUnknownField(t *testing.T) {
	s := newTestServer(t)
	value := dec("1")

	rec := s.do(http.MethodPost, "/api/calculations/whatever", &manager,
		api.CalculationEditRequest{Field: "revenue_total", Value: &value})

	requireKind(t, rec, http.StatusBadRequest, payout.KindInvalidInput)
	assert.Contains(t, rec.Body.String(), "field")
}

func TestOrders_AddUpdateDelete(t *testing.T) {
	s := newTestServer(t)
	out := s.importAndApply(manager, importRequest("01-15.11.25", item("A", "W", "1000")))
	ordersPath := "/api/versions/" + out.Version.ID + "/orders"

	// WHEN: A manual row is added
	total := dec("777")
	rec := s.do(http.MethodPost, ordersPath, &manager, api.AddOrderRequest{
		LineItem: reconcile.LineItem{Worker: "W", Description: "bonus"},
		Manual:   true,
		Total:    &total,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	manual := decodeBody[api.AddOrderResponse](t, rec).Line

	// THEN: It gets a synthetic key and counts towards the worker
	assert.True(t, strings.HasPrefix(manual.Key, payout.ManualKeyPrefix))
	assert.True(t, manual.IsManualRow)
	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals/W", &manager, nil)
	assert.True(t, dec("1927").Equal(decodeBody[api.StatementDTO](t, rec).TotalAmount))

	// Manual rows need a total
	rec = s.do(http.MethodPost, ordersPath, &manager, api.AddOrderRequest{LineItem: reconcile.LineItem{Worker: "W"}, Manual: true})
	requireKind(t, rec, http.StatusBadRequest, payout.KindInvalidInput)

	// WHEN: A feed-style order is added
	rec = s.do(http.MethodPost, ordersPath, &manager, api.AddOrderRequest{LineItem: item("B", "W", "500")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decodeBody[api.AddOrderResponse](t, rec).Line
	assert.Equal(t, "B|W", added.Key)
	assert.True(t, dec("600").Equal(added.Total))

	// WHEN: Its address is corrected
	addr := "Moscow, B, bld 2"
	rec = s.do(http.MethodPut, "/api/orders/"+added.OrderID, &manager, api.UpdateOrderRequest{Address: &addr})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[api.LineDTO](t, rec)
	assert.Equal(t, addr, updated.Address)
	assert.Equal(t, "B|W", updated.Key)

	// WHEN: It is deleted
	rec = s.do(http.MethodDelete, "/api/orders/"+added.OrderID, &manager, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodDelete, "/api/orders/"+added.OrderID, &manager, nil)
	requireKind(t, rec, http.StatusNotFound, payout.KindNotFound)

	rec = s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/totals/W", &manager, nil)
	assert.True(t, dec("1927").Equal(decodeBody[api.StatementDTO](t, rec).TotalAmount))
}

func TestDeletePeriod_AdminOnly(t *testing.T) {
	s := newTestServer(t)
	out := s.importAndApply(manager, importRequest("01-15.11.25", item("A", "W", "1000")))
	path := "/api/periods/" + out.Version.PeriodID

	requireKind(t, s.do(http.MethodDelete, path, &manager, nil), http.StatusForbidden, payout.KindForbidden)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, &admin, nil).Code)
	requireKind(t, s.do(http.MethodGet, path, &admin, nil), http.StatusNotFound, payout.KindNotFound)

	rec := s.do(http.MethodGet, "/api/periods", &viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]api.PeriodDTO](t, rec))
}

// =============================================================================
// VERSION READS
// =============================================================================

func TestAlarms_FlagHighPayment(t *testing.T) {
	s := newTestServer(t)
	out := s.importAndApply(manager, importRequest("01-15.11.25", item("A", "W", "25000"), item("B", "W", "1000")))

	rec := s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/alarms", &viewer, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var alarms []struct {
		Kind     string `json:"kind"`
		OrderKey string `json:"order_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alarms))
	require.Len(t, alarms, 1)
	assert.Equal(t, "high_payment", alarms[0].Kind)
	assert.Equal(t, "A|W", alarms[0].OrderKey)
}

func TestReport_ServesWorkbook(t *testing.T) {
	s := newTestServer(t)
	out := s.importAndApply(manager, importRequest("01-15.11.25", item("A", "W", "1000")))

	rec := s.do(http.MethodGet, "/api/versions/"+out.Version.ID+"/report.xlsx", &viewer, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

func TestRecalculate_ViewersForbidden(t *testing.T) {
	s := newTestServer(t)
	out := s.importAndApply(manager, importRequest("01-15.11.25", item("A", "W", "1000")))
	path := "/api/versions/" + out.Version.ID + "/recalculate"

	requireKind(t, s.do(http.MethodPost, path, &viewer, nil), http.StatusForbidden, payout.KindForbidden)

	rec := s.do(http.MethodPost, path, &manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statements := decodeBody[[]api.StatementDTO](t, rec)
	require.Len(t, statements, 1)
	assert.True(t, dec("1150").Equal(statements[0].TotalAmount))
}

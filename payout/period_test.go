package payout_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to payout.PeriodStatus
		ok       bool
	}{
		{payout.StatusDraft, payout.StatusSent, true},
		{payout.StatusSent, payout.StatusPaid, true},
		{payout.StatusSent, payout.StatusDraft, true},
		{payout.StatusPaid, payout.StatusSent, true},
		{payout.StatusDraft, payout.StatusPaid, false},
		{payout.StatusPaid, payout.StatusDraft, false},
		{payout.StatusDraft, payout.StatusDraft, false},
		{payout.StatusDraft, "archived", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := payout.ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, payout.ErrInvalidTransition))
			}
		})
	}
}

func TestPeriodTransition_StampsTimes(t *testing.T) {
	at := time.Date(2025, 11, 16, 10, 0, 0, 0, time.UTC)
	p := payout.Period{ID: "p1", Status: payout.StatusDraft}

	sent, err := p.Transition(payout.StatusSent, at)
	require.NoError(t, err)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, at, *sent.SentAt)
	assert.Equal(t, payout.StatusDraft, p.Status, "original left unchanged")

	paid, err := sent.Transition(payout.StatusPaid, at.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)

	back, err := sent.Transition(payout.StatusDraft, at)
	require.NoError(t, err)
	assert.Nil(t, back.SentAt)

	_, err = p.Transition(payout.StatusPaid, at)
	assert.True(t, errors.Is(err, payout.ErrInvalidTransition))
}

func TestAuthorize(t *testing.T) {
	admin := payout.Actor{ID: "1", Name: "root", Role: payout.RoleAdmin}
	manager := payout.Actor{ID: "2", Name: "mgr", Role: payout.RoleManager}
	viewer := payout.Actor{ID: "3", Name: "view", Role: payout.RoleViewer}

	for _, s := range []payout.PeriodStatus{payout.StatusDraft, payout.StatusSent, payout.StatusPaid} {
		assert.NoError(t, payout.Authorize(admin, "p", s))
		assert.True(t, errors.Is(payout.Authorize(viewer, "p", s), payout.ErrForbidden))
	}
	assert.NoError(t, payout.Authorize(manager, "p", payout.StatusDraft))
	assert.True(t, errors.Is(payout.Authorize(manager, "p", payout.StatusSent), payout.ErrPeriodLocked))
	assert.True(t, errors.Is(payout.Authorize(manager, "p", payout.StatusPaid), payout.ErrPeriodLocked))

	assert.True(t, errors.Is(payout.Authorize(payout.Actor{Role: "guest"}, "p", payout.StatusDraft), payout.ErrForbidden))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, payout.KindPeriodLocked, payout.KindOf(&payout.PeriodLockedError{Status: payout.StatusSent}))
	assert.Equal(t, payout.KindNotFound, payout.KindOf(&payout.NotFoundError{Entity: "order", ID: "x"}))
	assert.Equal(t, payout.KindConflict, payout.KindOf(payout.ErrStaleVersion))
	assert.Equal(t, payout.KindInternal, payout.KindOf(errors.New("disk on fire")))
	assert.False(t, payout.IsClientError(errors.New("disk on fire")))
	assert.True(t, payout.IsClientError(payout.ErrEmptyImport))
}

package status

import (
	"errors"
	"testing"

	ats "github.com/muasya/ats-go"
)

func TestSetLoading_IndependentPerDomain(t *testing.T) {
	b := New()

	b.SetLoading(ats.DomainJobs, true)

	if !b.Loading(ats.DomainJobs) {
		t.Error("jobs should be loading")
	}
	for _, d := range []ats.Domain{ats.DomainAuth, ats.DomainProfile, ats.DomainCompanies} {
		if b.Loading(d) {
			t.Errorf("%s should not be loading", d)
		}
	}
}

func TestSetError_IndependentPerDomain(t *testing.T) {
	b := New()

	b.SetError(ats.DomainProfile, ats.NewAppError(ats.CodeProfileFetch, errors.New("boom")))

	if got := b.Err(ats.DomainProfile); got == nil || got.Code != ats.CodeProfileFetch {
		t.Fatalf("profile error = %+v, want code %s", got, ats.CodeProfileFetch)
	}
	if b.Err(ats.DomainAuth) != nil {
		t.Error("auth error should be nil")
	}

	b.SetError(ats.DomainProfile, nil)
	if b.Err(ats.DomainProfile) != nil {
		t.Error("profile error should be cleared")
	}
}

func TestClearErrors_KeepsLoadingFlags(t *testing.T) {
	b := New()
	b.SetLoading(ats.DomainCompanies, true)
	b.SetError(ats.DomainCompanies, ats.NewAppError(ats.CodeUserDataFetch, errors.New("x")))
	b.SetError(ats.DomainJobs, ats.NewAppError(ats.CodeJobsFetch, errors.New("y")))

	b.ClearErrors()

	for _, d := range ats.Domains {
		if b.Err(d) != nil {
			t.Errorf("%s error should be nil after ClearErrors", d)
		}
	}
	if !b.Loading(ats.DomainCompanies) {
		t.Error("ClearErrors must not touch loading flags")
	}
}

func TestTrack_ClearsOnDone(t *testing.T) {
	b := New()

	done := b.Track(ats.DomainAuth)
	if !b.Loading(ats.DomainAuth) {
		t.Fatal("auth should be loading while tracked")
	}
	done()

	if b.Loading(ats.DomainAuth) {
		t.Error("auth should be idle after done")
	}
}

func TestNotify_CalledOnEveryWrite(t *testing.T) {
	calls := 0
	b := New(WithNotify(func() { calls++ }))

	b.SetLoading(ats.DomainAuth, true)
	b.SetError(ats.DomainAuth, nil)
	b.ClearErrors()

	if calls != 3 {
		t.Errorf("expected 3 notifications, got %d", calls)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	b := New(WithInitialLoading(ats.DomainAuth, ats.DomainProfile))
	b.SetError(ats.DomainJobs, &ats.AppError{Message: "m", Code: ats.CodeJobsFetch})

	snap := b.Snapshot()
	snap.Errors[ats.DomainJobs].Message = "changed"
	snap.Loading[ats.DomainAuth] = false

	if b.Err(ats.DomainJobs).Message != "m" {
		t.Error("snapshot error must not alias board state")
	}
	if !b.Loading(ats.DomainAuth) {
		t.Error("snapshot loading must not alias board state")
	}
	if len(snap.Loading) != len(ats.Domains) {
		t.Errorf("snapshot should list %d domains, got %d", len(ats.Domains), len(snap.Loading))
	}
}

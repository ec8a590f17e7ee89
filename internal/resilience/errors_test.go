package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

func TestClassify_ExplicitCategoryWins(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{Recoverable(errors.New("rate limited"), 429), CategoryRecoverable},
		{NonRecoverable(errors.New("bad key"), 401), CategoryNonRecoverable},
		{Degraded(errors.New("partial")), CategoryDegraded},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestClassify_WrappedClassifiedError(t *testing.T) {
	inner := Recoverable(errors.New("upstream 503"), 503)
	wrapped := eris.Wrap(inner, "serp: search")
	if got := Classify(wrapped); got != CategoryRecoverable {
		t.Errorf("expected recoverable through eris wrap, got %s", got)
	}

	wrapped2 := fmt.Errorf("outer: %w", NonRecoverable(errors.New("forbidden"), 403))
	if got := Classify(wrapped2); got != CategoryNonRecoverable {
		t.Errorf("expected non_recoverable through fmt wrap, got %s", got)
	}
}

func TestClassify_OpenCircuit(t *testing.T) {
	if got := Classify(ErrCircuitOpen); got != CategoryServiceUnavailable {
		t.Errorf("expected service_unavailable, got %s", got)
	}
	wrapped := fmt.Errorf("call serp: %w", ErrCircuitOpen)
	if got := Classify(wrapped); got != CategoryServiceUnavailable {
		t.Errorf("expected service_unavailable through wrap, got %s", got)
	}
}

func TestClassify_NetworkErrors(t *testing.T) {
	cases := []error{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		errors.New("read tcp 10.0.0.1:443: connection reset by peer"),
		errors.New("dial tcp: lookup api.example.com: no such host"),
		errors.New("net/http: TLS handshake timeout"),
	}
	for _, err := range cases {
		if got := Classify(err); got != CategoryRecoverable {
			t.Errorf("Classify(%v) = %s, want recoverable", err, got)
		}
	}
}

func TestClassify_DefaultNonRecoverable(t *testing.T) {
	if got := Classify(errors.New("unexpected schema version")); got != CategoryNonRecoverable {
		t.Errorf("unknown errors must default to non_recoverable, got %s", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want Category
	}{
		{206, CategoryDegraded},
		{408, CategoryRecoverable},
		{429, CategoryRecoverable},
		{500, CategoryRecoverable},
		{502, CategoryRecoverable},
		{503, CategoryRecoverable},
		{400, CategoryNonRecoverable},
		{401, CategoryNonRecoverable},
		{403, CategoryNonRecoverable},
		{404, CategoryNonRecoverable},
		{200, CategoryRecoverable},
	}
	for _, c := range cases {
		if got := ClassifyStatus(c.code); got != c.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", c.code, got, c.want)
		}
	}
}

func TestCategory_Retryable(t *testing.T) {
	if !CategoryRecoverable.Retryable() {
		t.Error("recoverable must be retryable")
	}
	for _, c := range []Category{CategoryNonRecoverable, CategoryDegraded, CategoryServiceUnavailable} {
		if c.Retryable() {
			t.Errorf("%s must not be retryable", c)
		}
	}
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := errors.New("root cause")
	ce := Recoverable(base, 500)
	if !errors.Is(ce, base) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	if ce.Error() != "root cause" {
		t.Errorf("unexpected message: %s", ce.Error())
	}
}

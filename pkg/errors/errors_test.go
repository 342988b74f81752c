package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRegistryCoversEveryCode(t *testing.T) {
	codes := []Code{
		CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict,
		CodeStateConflict, CodeRateLimit, CodeInternal, CodeDependency,
		CodeInvalidStateTransition, CodeInsufficientStock, CodeAllocationInvariant,
		CodeConnector, CodeCredential, CodeConflictUnresolvable,
	}
	for _, code := range codes {
		m, ok := registry[code]
		if !ok {
			t.Fatalf("code %s has no metadata", code)
		}
		if m.HTTPStatus < 400 || m.PublicMessage == "" {
			t.Fatalf("code %s has incomplete metadata %+v", code, m)
		}
	}
}

func TestMetadataTraits(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:          {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, ExposeMessage: true},
		CodeDependency:          {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
		CodeConnector:           {HTTPStatus: http.StatusBadGateway, PublicMessage: "channel connector failed", Retryable: true, DetailsAllowed: true},
		CodeCredential:          {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "channel credentials invalid", ExposeMessage: true},
		CodeAllocationInvariant: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "allocation rejected", DetailsAllowed: true},
		CodeInsufficientStock:   {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock", DetailsAllowed: true, ExposeMessage: true},
	}
	for code, want := range cases {
		if got := MetadataFor(code); got != want {
			t.Fatalf("code %s: got %+v want %+v", code, got, want)
		}
	}
	if MetadataFor("SOMETHING_UNKNOWN") != MetadataFor(CodeInternal) {
		t.Fatal("unknown codes should fall back to internal")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	if got := New(CodeNotFound, "channel missing").Error(); got != "NOT_FOUND: channel missing" {
		t.Fatalf("unexpected %q", got)
	}
	wrapped := Wrap(CodeDependency, stdErrors.New("dial tcp"), "load channel")
	if got := wrapped.Error(); got != "DEPENDENCY_ERROR: load channel: dial tcp" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Newf(CodeValidation, "qty %d too large", 9).Message(); got != "qty 9 too large" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestWithDetailsChains(t *testing.T) {
	err := New(CodeValidation, "missing foo").WithDetails(map[string]any{"field": "foo"})
	if err.Details() == nil {
		t.Fatal("details should be preserved")
	}
	var nilErr *Error
	if nilErr.WithDetails("x") != nil || nilErr.Code() != CodeInternal || nilErr.Error() != "" {
		t.Fatal("nil receivers must be safe")
	}
}

func TestChainHelpers(t *testing.T) {
	inner := New(CodeCredential, "decrypt failed")
	outer := fmt.Errorf("channel 7: %w", Wrap(CodeConnector, inner, "sync channel"))

	if !Is(outer, CodeCredential) || !Is(outer, CodeConnector) {
		t.Fatal("expected both codes in chain")
	}
	if Is(outer, CodeNotFound) {
		t.Fatal("did not expect not found code")
	}
	if CodeOf(outer) != CodeConnector {
		t.Fatalf("CodeOf should report the outermost code, got %s", CodeOf(outer))
	}
	if !stdErrors.Is(outer, inner) {
		t.Fatal("Wrap did not preserve cause")
	}

	plain := stdErrors.New("plain")
	if As(plain) != nil || As(nil) != nil {
		t.Fatal("untyped errors carry no *Error")
	}
	if Is(plain, CodeInternal) || CodeOf(plain) != CodeInternal {
		t.Fatal("untyped errors report internal without matching it")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Wrap(CodeConnector, stdErrors.New("502"), "push")) {
		t.Fatal("connector failures are retryable")
	}
	if Retryable(New(CodeValidation, "bad")) {
		t.Fatal("validation failures are not retryable")
	}
	if !Retryable(stdErrors.New("untyped")) {
		t.Fatal("untyped errors count as internal and retryable")
	}
}

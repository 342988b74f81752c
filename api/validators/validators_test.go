package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

type connectPayload struct {
	Type     string   `json:"type" validate:"required,channel_type"`
	Name     string   `json:"name,omitempty" validate:"omitempty,max=5"`
	Products []string `json:"products,omitempty" validate:"omitempty,dive,uuid"`
}

func postJSON(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func details(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %T", err)
	}
	if typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %s", typed.Code())
	}
	d, _ := typed.Details().(map[string]string)
	return d
}

func TestDecodeJSONBodyAcceptsKnownChannelType(t *testing.T) {
	var p connectPayload
	if err := DecodeJSONBody(postJSON(`{"type":"shopify","name":"main"}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != string(enums.ChannelTypeShopify) {
		t.Fatalf("unexpected type %q", p.Type)
	}
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	var p connectPayload
	err := DecodeJSONBody(postJSON(`{"type":"myspace","name":"too long","products":["nope"]}`), &p)
	d := details(t, err)
	if d["type"] != "must be a known channel type" {
		t.Fatalf("type detail = %q", d["type"])
	}
	if d["name"] != "must be at most 5 characters" {
		t.Fatalf("name detail = %q", d["name"])
	}
	if d["products[0]"] != "must be a uuid" {
		t.Fatalf("products detail = %q (all: %v)", d["products[0]"], d)
	}
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":    ``,
		"trailing": `{"type":"shopify"}{"type":"shopify"}`,
		"unknown":  `{"type":"shopify","extra":1}`,
		"syntax":   `{"type":`,
		"type":     `{"type":5}`,
		"too big":  `{"type":"shopify","name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var p connectPayload
			err := DecodeJSONBody(postJSON(body), &p)
			if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=7&status=pending&product_id=bad", nil)

	limit, err := ParseQueryInt(r, "limit", 25, 1, 100)
	if err != nil || limit != 7 {
		t.Fatalf("limit = %d, %v", limit, err)
	}
	if _, err := ParseQueryInt(r, "limit", 25, 10, 100); err == nil {
		t.Fatal("expected out of range error")
	}

	status, ok, err := ParseQueryEnum(r, "status", enums.ParseConflictStatus)
	if err != nil || !ok || status != enums.ConflictStatusPending {
		t.Fatalf("status = %q ok=%v err=%v", status, ok, err)
	}
	if _, ok, err := ParseQueryEnum(r, "type", enums.ParseConflictType); ok || err != nil {
		t.Fatalf("absent key should be skipped, ok=%v err=%v", ok, err)
	}

	if _, err := ParseQueryUUID(r, "product_id"); err == nil {
		t.Fatal("expected uuid error")
	}
	if id, err := ParseQueryUUID(r, "channel_id"); id != nil || err != nil {
		t.Fatalf("absent uuid = %v, %v", id, err)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  main\x00 store\n ", 0); got != "main store" {
		t.Fatalf("got %q", got)
	}
	// "é" is two bytes; cutting at 2 must not split it.
	if got := SanitizeString("aé", 2); got != "a" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

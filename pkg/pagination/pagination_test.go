package pagination

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorTokenIsQuerySafe(t *testing.T) {
	c := Cursor{At: time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC), ID: uuid.New()}
	token := c.Encode()
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("token %q needs escaping in a query string", token)
	}
	got, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.At.Equal(c.At) || got.ID != c.ID {
		t.Fatalf("expected %+v, got %+v", c, got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if c, err := Decode("  "); err != nil || c != nil {
		t.Fatalf("blank token should be the first page, got %v %v", c, err)
	}
	for _, token := range []string{"not a cursor!", Cursor{}.Encode()[:4], "bm8tcGlwZQ"} {
		if _, err := Decode(token); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("token %q: expected ErrInvalidCursor, got %v", token, err)
		}
	}
}

func TestNormalizeLimit(t *testing.T) {
	for in, want := range map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, 500: MaxLimit} {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestTrimReportsNextPage(t *testing.T) {
	key := func(n int) Cursor { return Cursor{At: time.Unix(int64(n), 0)} }

	rows, next := Trim([]int{5, 4, 3}, 2, key)
	if len(rows) != 2 || next == nil || next.At.Unix() != 4 {
		t.Fatalf("expected two rows and a cursor at 4, got %v %v", rows, next)
	}
	rows, next = Trim([]int{2, 1}, 2, key)
	if len(rows) != 2 || next != nil {
		t.Fatalf("expected final page, got %v %v", rows, next)
	}
}

package cron

import (
	"context"
	"reflect"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRunOrder(t *testing.T) {
	r := NewRegistry()
	for _, err := range []error{
		r.RegisterGate(namedJob("oversell_guard")),
		r.Register(namedJob("inventory_sync")),
		r.Register(namedJob("outbox_retention")),
	} {
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	want := []string{"oversell_guard", "inventory_sync", "outbox_retention"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if steps := r.snapshot(); !steps[0].gate || steps[1].gate {
		t.Fatalf("gate flags not preserved: %+v", steps)
	}
}

func TestRegistryRejectsBadJobs(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatal("expected nil job error")
	}
	if err := r.Register(namedJob(" ")); err == nil {
		t.Fatal("expected blank name error")
	}
	if err := r.Register(namedJob("inventory_sync")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterGate(namedJob("inventory_sync")); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

package client

import (
	"testing"

	"spilled.ink/internal/imapcore/catalog"
)

func TestNewClientStartsNonAuth(t *testing.T) {
	c := New(0, &Cred{Username: "u1"}, 4)
	if c.LoginState != catalog.NonAuth {
		t.Errorf("LoginState = %s, want NONAUTH", c.LoginState)
	}
	if c.Queue == nil {
		t.Fatalf("Queue is nil")
	}
	if c.View != nil {
		t.Errorf("View is non-nil before SELECT")
	}
}

func TestPlanFullAndLast(t *testing.T) {
	c := New(0, &Cred{}, 4)
	if c.PlanFull(3) {
		t.Fatalf("empty plan reports full")
	}
	if _, ok := c.PlanLast(); ok {
		t.Errorf("PlanLast on empty plan returned ok=true")
	}
	c.Plan = append(c.Plan, catalog.Fetch, catalog.Store)
	if !c.PlanFull(2) {
		t.Errorf("PlanFull(2) = false with 2 buffered states")
	}
	last, ok := c.PlanLast()
	if !ok || last != catalog.Store {
		t.Errorf("PlanLast() = %v, %v, want Store, true", last, ok)
	}
}

func TestPopPlan(t *testing.T) {
	c := New(0, &Cred{}, 4)
	c.Plan = append(c.Plan, catalog.Fetch, catalog.Store)
	first := c.PopPlan()
	if first != catalog.Fetch {
		t.Errorf("PopPlan() = %s, want FETCH", first)
	}
	if len(c.Plan) != 1 || c.Plan[0] != catalog.Store {
		t.Errorf("Plan after pop = %v, want [Store]", c.Plan)
	}
}

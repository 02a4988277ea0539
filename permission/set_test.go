package permission

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSetSuperuserGrantsEverything(t *testing.T) {
	s := All()
	for _, code := range []string{"branch.view_branch", "anything", ""} {
		if !s.Has(code) {
			t.Fatalf("superuser must grant %q", code)
		}
	}
}

func TestSetExplicitCodes(t *testing.T) {
	s := Of("a", "b")
	if !s.Has("a") || !s.Has("b") {
		t.Fatal("expected a and b to be granted")
	}
	if s.Has("c") {
		t.Fatal("c must not be granted")
	}
	if s.Superuser() {
		t.Fatal("explicit set is not superuser")
	}
	var zero Set
	if zero.Has("a") {
		t.Fatal("zero Set grants nothing")
	}
}

func TestSetUnmarshal(t *testing.T) {
	cases := []struct {
		in        string
		superuser bool
		codes     int
		wantErr   bool
	}{
		{in: `true`, superuser: true},
		{in: `false`},
		{in: `[]`},
		{in: `["branch.view_branch","vehicle.view_vehicle"]`, codes: 2},
		{in: `["a","a"," "]`, codes: 1},
		{in: `null`, wantErr: true},
		{in: `"branch.view_branch"`, wantErr: true},
		{in: `[1,2]`, wantErr: true},
		{in: `["a",null]`, wantErr: true},
		{in: `{"codes":[]}`, wantErr: true},
	}
	for _, tc := range cases {
		var s Set
		err := json.Unmarshal([]byte(tc.in), &s)
		if tc.wantErr {
			if !errors.Is(err, ErrUnexpectedShape) {
				t.Fatalf("%s: expected ErrUnexpectedShape, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		if s.Superuser() != tc.superuser || s.Len() != tc.codes {
			t.Fatalf("%s: got superuser=%v codes=%d", tc.in, s.Superuser(), s.Len())
		}
	}
}

func TestSetMarshal(t *testing.T) {
	out, err := json.Marshal(Of("b", "a"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `["a","b"]` {
		t.Fatalf("unexpected wire form %s", out)
	}
	out, _ = json.Marshal(All())
	if string(out) != `true` {
		t.Fatalf("unexpected superuser wire form %s", out)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("branch.view_branch"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register("branch.view_branch"); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	for _, bad := range []string{"", "nodot", ".x", "x."} {
		if _, err := r.Register(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	r.Freeze()
	if _, err := r.Register("vehicle.view_vehicle"); err == nil {
		t.Fatal("frozen registry must reject registrations")
	}
	if !r.Known("branch.view_branch") || r.Known("vehicle.view_vehicle") {
		t.Fatal("unexpected Known result")
	}
}

func TestDefaultRegistryCoversConsoleEntities(t *testing.T) {
	r := NewDefaultRegistry()
	for _, code := range []string{
		"user.view_user",
		"customer.view_customer",
		"branch.view_branch",
		"vehiclemodel.view_vehiclemodel",
		"vehicle.view_vehicle",
		"invoice.delete_invoice",
	} {
		if !r.Known(code) {
			t.Fatalf("expected %s in default catalog", code)
		}
	}
	if r.Count() != len(DefaultCodes()) {
		t.Fatalf("count %d != %d", r.Count(), len(DefaultCodes()))
	}
}

package extractor

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestBuildCookiePlan_FiltersAndHardens(t *testing.T) {
	cookies := map[string]string{
		"PHPSESSID":      "secret-session-value",
		"uid":            "12345",
		"remember":       "", // allowlisted but empty
		"tracking_pixel": "x",
	}
	allowlist := []string{"PHPSESSID", "uid", "remember"}

	plan := buildCookiePlan(cookies, allowlist, "PHPSESSID", "myfigurecollection.net")

	if len(plan.params) != 2 {
		t.Fatalf("params = %d, want 2", len(plan.params))
	}
	// Names are processed in sorted order.
	if plan.params[0].Name != "PHPSESSID" || plan.params[1].Name != "uid" {
		t.Fatalf("param order = %q, %q", plan.params[0].Name, plan.params[1].Name)
	}

	session := plan.params[0]
	if session.Value != "secret-session-value" {
		t.Errorf("session value not carried through")
	}
	if !session.HTTPOnly || !session.Secure {
		t.Errorf("session cookie not hardened: HTTPOnly=%v Secure=%v", session.HTTPOnly, session.Secure)
	}
	if session.SameSite != proto.NetworkCookieSameSiteLax {
		t.Errorf("session SameSite = %q, want Lax", session.SameSite)
	}
	if session.Domain != "myfigurecollection.net" || session.Path != "/" {
		t.Errorf("session scope = %q %q", session.Domain, session.Path)
	}

	plain := plan.params[1]
	if plain.HTTPOnly || plain.Secure || plain.SameSite != "" {
		t.Errorf("non-session cookie should not be hardened: %+v", plain)
	}

	if plan.dropped != 1 {
		t.Errorf("dropped = %d, want 1 (empty remember)", plan.dropped)
	}
	if len(plan.unknown) != 1 || plan.unknown[0] != "tracking_pixel" {
		t.Errorf("unknown = %v, want [tracking_pixel]", plan.unknown)
	}
}

func TestBuildCookiePlan_UnknownNamesAreSanitized(t *testing.T) {
	cookies := map[string]string{"evil\nname": "v"}
	plan := buildCookiePlan(cookies, []string{"PHPSESSID"}, "PHPSESSID", "example.net")

	if len(plan.params) != 0 {
		t.Fatalf("params = %d, want 0", len(plan.params))
	}
	if len(plan.unknown) != 1 {
		t.Fatalf("unknown = %v", plan.unknown)
	}
	if plan.unknown[0] != "evil name" {
		t.Errorf("unknown name not sanitized for logging: %q", plan.unknown[0])
	}
}

func TestBuildCookiePlan_NoAllowlistedCookies(t *testing.T) {
	plan := buildCookiePlan(map[string]string{"foo": "bar"}, []string{"PHPSESSID"}, "PHPSESSID", "example.net")
	if len(plan.params) != 0 {
		t.Errorf("params = %d, want 0", len(plan.params))
	}
}

func TestBuildCookiePlan_EmptyInput(t *testing.T) {
	plan := buildCookiePlan(nil, []string{"PHPSESSID"}, "PHPSESSID", "example.net")
	if len(plan.params) != 0 || len(plan.unknown) != 0 || plan.dropped != 0 {
		t.Errorf("plan not empty: %+v", plan)
	}
}

package topic

import "testing"

func TestNames(t *testing.T) {
	if got := Manager("test"); got != "disturb-test-manager" {
		t.Fatalf("unexpected manager topic %q", got)
	}
	if got := Step("test", "foo"); got != "disturb-test-foo" {
		t.Fatalf("unexpected step topic %q", got)
	}
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"fetch", "process_2", "Order"} {
		if err := ValidateStep(ok); err != nil {
			t.Fatalf("expected %q to be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a-b", "a b", "a.b", "manager"} {
		if err := ValidateStep(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if err := ValidateName("manager"); err != nil {
		t.Fatalf("workflow names may be %q: %v", "manager", err)
	}
}

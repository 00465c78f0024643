package adminhttp

import "testing"

func TestAuthManager_ValidateAndSession(t *testing.T) {
	t.Parallel()

	a, err := NewAuthManager("admin", "s3cret")
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}

	if a.validate("admin", "wrong") {
		t.Error("wrong password should not validate")
	}
	if a.validate("other", "s3cret") {
		t.Error("wrong username should not validate")
	}
	if !a.validate("admin", "s3cret") {
		t.Error("correct credentials should validate")
	}

	session, err := a.createSession()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !a.valid(session.ID) {
		t.Error("freshly created session should be valid")
	}
	a.deleteSession(session.ID)
	if a.valid(session.ID) {
		t.Error("deleted session should no longer be valid")
	}
}

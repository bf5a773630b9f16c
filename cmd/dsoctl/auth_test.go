package main

import (
	"path/filepath"
	"testing"

	"github.com/aistore-dso/dso/cmn/config"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := issueToken("s3cr3t", "admin")
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	user, err := verifyToken("s3cr3t", tok)
	if err != nil {
		t.Fatalf("verifyToken: %v", err)
	}
	if user != "admin" {
		t.Fatalf("expected user %q, got %q", "admin", user)
	}
	if _, err := verifyToken("wrong-secret", tok); err == nil {
		t.Fatal("expected verification to fail against the wrong secret")
	}
}

func TestAdminMgrAuthenticate(t *testing.T) {
	cfg := config.Default()
	cfg.Admin.DBPath = filepath.Join(t.TempDir(), "dsoctl.db")

	mgr, err := newAdminMgr(cfg)
	if err != nil {
		t.Fatalf("newAdminMgr: %v", err)
	}
	defer mgr.Close()

	if err := mgr.authenticate("admin", "admin"); err != nil {
		t.Fatalf("expected seeded admin/admin to authenticate, got: %v", err)
	}
	if err := mgr.authenticate("admin", "wrong"); err == nil {
		t.Fatal("expected bad password to fail authentication")
	}
	if err := mgr.authenticate("nobody", "admin"); err == nil {
		t.Fatal("expected unknown user to fail authentication")
	}

	if err := mgr.setPassword("admin", "new-password"); err != nil {
		t.Fatalf("setPassword: %v", err)
	}
	if err := mgr.authenticate("admin", "new-password"); err != nil {
		t.Fatalf("expected rotated password to authenticate, got: %v", err)
	}
	if err := mgr.authenticate("admin", "admin"); err == nil {
		t.Fatal("expected old password to stop working after rotation")
	}
}

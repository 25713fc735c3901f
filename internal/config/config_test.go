package config

import "testing"

func TestDefaultPassesValidate(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsEmptyDomain(t *testing.T) {
	cfg := Default()
	cfg.SIP.Domain = "  "
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an empty sip_domain")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.SIP.ListenPort = 70000
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an out-of-range sip_listen_port")
	}
}

func TestValidateRejectsShortNonceExpiry(t *testing.T) {
	cfg := Default()
	cfg.Authentication.NonceExpirySeconds = 10
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for a too-short nonce expiry")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an unrecognised log level")
	}
}

func TestValidateRejectsDisabledWebAdminPortOutOfRangeOnlyWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.WebAdmin.Enabled = false
	cfg.WebAdmin.Port = -1
	if err := Validate(cfg); err != nil {
		t.Fatalf("an out-of-range port on a disabled web admin should not fail validation, got: %v", err)
	}

	cfg.WebAdmin.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error once the web admin with the bad port is enabled")
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/signalrtc-config.yaml"); err == nil {
		t.Fatalf("expected an error reading a missing config file")
	}
}

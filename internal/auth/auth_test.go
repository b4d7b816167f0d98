package auth

import (
	"testing"
)

func newTestService() *Service {
	s := NewService("unit-test-secret")
	s.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	return s
}

func TestGenerateAndValidateToken(t *testing.T) {
	service := newTestService()

	resp, err := service.GenerateToken(SessionRequest{
		APIKey:      TestAPIKey,
		APISecret:   TestAPISecret,
		PlayerID:    "steve",
		DisplayName: "Steve",
		Tier:        "vip",
		Permissions: []string{"ah.bypass.cooldown"},
	})
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}

	claims, err := service.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.PlayerID != "steve" || claims.DisplayName != "Steve" || claims.Tier != "vip" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "ah.bypass.cooldown" {
		t.Errorf("unexpected permissions %v", claims.Permissions)
	}
}

func TestRejectsBadCredentials(t *testing.T) {
	service := newTestService()

	_, err := service.GenerateToken(SessionRequest{
		APIKey:    TestAPIKey,
		APISecret: "wrong",
		PlayerID:  "steve",
	})
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = service.GenerateToken(SessionRequest{
		APIKey:    "unregistered",
		APISecret: TestAPISecret,
		PlayerID:  "steve",
	})
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRejectsForeignToken(t *testing.T) {
	service := newTestService()
	other := NewService("another-secret")
	other.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	resp, err := other.GenerateToken(SessionRequest{
		APIKey:      TestAPIKey,
		APISecret:   TestAPISecret,
		PlayerID:    "steve",
		DisplayName: "Steve",
	})
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	if _, err := service.ValidateToken(resp.Token); err == nil {
		t.Error("expected token signed with a different secret to be rejected")
	}
	if _, err := service.ValidateToken("not-a-token"); err == nil {
		t.Error("expected garbage token to be rejected")
	}
}

// Package fixtures holds constant test data for the identity provider
// realm, the test user and the backing stores.
package fixtures

// Identity provider realm.
const (
	ProviderURL = "https://keycloak.messaged.test"
	Realm       = "poc"
	Issuer      = ProviderURL + "/realms/" + Realm
	ClientID    = "message-service"
	SharedKey   = "0123456789abcdef0123456789abcdef"
	KeyID       = "test-kid-1"
)

// Test user.
const (
	Subject   = "5d1c2f1e-8b5a-4f43-9c8e-6f0a3b2d7e11"
	Username  = "alice"
	SessionID = "a7c1e0b2-3d4f-4e5a-8b6c-9d0e1f2a3b4c"
)

// Configuration.
const (
	EnvPrefix = "MESSAGED"

	ConfigYAML = `server:
  addr: ":9090"
  base_path: /api
auth:
  mode: shared-key
  shared_key:
    issuer: https://keycloak.messaged.test/realms/poc
  rules:
    - pattern: /api/**
      requirement: authenticated
session:
  backend: memory
`
)

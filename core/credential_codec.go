package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// CredentialCodec converts Credential values to and from the byte payload
// handed to the SecretProvider for encryption.
type CredentialCodec interface {
	Encode(credential Credential) ([]byte, error)
	Decode(payload []byte) (Credential, error)
}

type credentialEnvelope struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Encode(credential Credential) ([]byte, error) {
	if err := credential.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(credentialEnvelope{
		AccessToken:  credential.AccessToken,
		RefreshToken: credential.RefreshToken,
		ExpiresAt:    credential.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("core: encode credential: %w", err)
	}
	return payload, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (Credential, error) {
	if len(payload) == 0 {
		return Credential{}, fmt.Errorf("core: credential payload is empty")
	}
	envelope := credentialEnvelope{}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Credential{}, fmt.Errorf("core: decode credential: %w", err)
	}
	credential := Credential{
		AccessToken:  envelope.AccessToken,
		RefreshToken: envelope.RefreshToken,
		ExpiresAt:    envelope.ExpiresAt,
	}
	if err := credential.Validate(); err != nil {
		return Credential{}, err
	}
	return credential, nil
}

var _ CredentialCodec = JSONCredentialCodec{}

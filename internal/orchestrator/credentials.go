package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/vault"
)

// Credential check outcomes.
const (
	CredentialOK            = "ok"
	CredentialMissing       = "missing"
	CredentialInvalid       = "invalid"
	CredentialUndecryptable = "undecryptable"
)

// CredentialCheck reports whether one channel's sealed credentials still
// open under the current master key.
type CredentialCheck struct {
	ChannelID  uuid.UUID         `json:"channel_id"`
	Type       enums.ChannelType `json:"type"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	KeyVersion int               `json:"key_version,omitempty"`
	Stale      bool              `json:"stale_key_version,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

// CheckCredentials opens every stored credential of the store without
// building connectors or touching their validity flags.
func (s *Service) CheckCredentials(ctx context.Context, storeID uuid.UUID) ([]CredentialCheck, error) {
	channels, err := s.repo.ListChannels(ctx, storeID)
	if err != nil {
		return nil, err
	}
	out := make([]CredentialCheck, 0, len(channels))
	for _, channel := range channels {
		check := CredentialCheck{ChannelID: channel.ID, Type: channel.Type, Name: channel.Name}
		cred, err := s.repo.LoadCredentials(ctx, channel.ID)
		switch {
		case pkgerrors.Is(err, pkgerrors.CodeCredential):
			check.Status = CredentialMissing
			out = append(out, check)
			continue
		case err != nil:
			return nil, err
		}
		check.KeyVersion = cred.KeyVersion
		check.Stale = cred.KeyVersion != s.vault.KeyVersion()

		var creds connectors.Credentials
		sealed := vault.Sealed{Ciphertext: cred.Ciphertext, Nonce: cred.Nonce, KeyVersion: cred.KeyVersion}
		switch openErr := s.vault.OpenJSON(sealed, channel.ID[:], &creds); {
		case openErr != nil:
			check.Status = CredentialUndecryptable
			check.Detail = openErr.Error()
		case !cred.IsValid:
			check.Status = CredentialInvalid
			if cred.LastError != nil {
				check.Detail = *cred.LastError
			}
		default:
			check.Status = CredentialOK
		}
		out = append(out, check)
	}
	return out, nil
}

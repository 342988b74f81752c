package orchestrator

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox/payloads"
)

// ConnectInput describes a channel to connect.
type ConnectInput struct {
	Type          enums.ChannelType
	Name          string
	ExternalRef   string
	Credentials   connectors.Credentials
	WebhookSecret *string
	Priority      int
	// SyncEnabled defaults to true.
	SyncEnabled *bool
	Actor       *outbox.ActorRef
}

// ConnectResult reports the connected channel and how many allocation rows
// were bootstrapped for it.
type ConnectResult struct {
	Channel      models.Channel `json:"channel"`
	Bootstrapped int            `json:"bootstrapped"`
}

// ConnectChannel health-checks the channel with the supplied credentials, stores
// them sealed and bootstraps zeroed allocations for every store product.
func (s *Service) ConnectChannel(ctx context.Context, storeID uuid.UUID, in ConnectInput) (*ConnectResult, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	def, err := s.registry.Lookup(in.Type)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithStoreID(ctx, storeID.String())
	ctx = s.logg.WithField(ctx, "channel_type", string(in.Type))

	conn, err := s.registry.Build(in.Type, in.Credentials)
	if err != nil {
		return nil, err
	}
	health := conn.HealthCheck(ctx)
	if !health.Healthy() {
		s.logg.Warn(s.logg.WithField(ctx, "health_error", health.Error), "channel health check failed")
		return nil, pkgerrors.New(pkgerrors.CodeConnector, "channel health check failed").
			WithDetails(map[string]any{"type": in.Type, "error": health.Error})
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = def.DisplayName
	}
	priority := in.Priority
	if priority <= 0 {
		priority = 1
	}
	syncEnabled := true
	if in.SyncEnabled != nil {
		syncEnabled = *in.SyncEnabled
	}
	channel := models.Channel{
		StoreID:       storeID,
		Type:          in.Type,
		Name:          name,
		ExternalRef:   strings.TrimSpace(in.ExternalRef),
		IsActive:      true,
		SyncEnabled:   syncEnabled,
		WebhookSecret: in.WebhookSecret,
		Priority:      priority,
	}
	actor := in.Actor
	if actor == nil {
		actor = &outbox.ActorRef{StoreID: storeID, Source: outbox.SourceAPI}
	}

	var bootstrapped int
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpsertChannel(ctx, &channel); err != nil {
			return err
		}
		sealed, err := s.vault.SealJSON(in.Credentials, channel.ID[:])
		if err != nil {
			return err
		}
		if err := repo.SaveCredentials(ctx, &models.ChannelCredential{
			ChannelID:  channel.ID,
			Ciphertext: sealed.Ciphertext,
			Nonce:      sealed.Nonce,
			KeyVersion: sealed.KeyVersion,
		}); err != nil {
			return err
		}
		bootstrapped, err = s.allocations.WithTx(tx).BootstrapChannel(ctx, storeID, channel)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChannelConnected,
			AggregateType: enums.AggregateChannel,
			AggregateID:   channel.ID,
			Actor:         actor,
			Data: payloads.ChannelConnectedEvent{
				ChannelID: channel.ID,
				StoreID:   storeID,
				Type:      channel.Type,
				Name:      channel.Name,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.connectors.Add(channel.ID, conn)
	ctx = s.logg.WithChannelID(ctx, channel.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "bootstrapped", bootstrapped), "channel connected")
	return &ConnectResult{Channel: channel, Bootstrapped: bootstrapped}, nil
}

// DisconnectChannel removes a channel's credentials, listings and
// allocations and deactivates it. The channel row is kept for history.
func (s *Service) DisconnectChannel(ctx context.Context, storeID, channelID uuid.UUID, actor *outbox.ActorRef) error {
	channel, err := s.repo.FindChannel(ctx, storeID, channelID)
	if err != nil {
		return err
	}
	ctx = s.logg.WithStoreID(ctx, storeID.String())
	ctx = s.logg.WithChannelID(ctx, channelID.String())
	if actor == nil {
		actor = &outbox.ActorRef{StoreID: storeID, Source: outbox.SourceAPI}
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteCredentials(ctx, channelID); err != nil {
			return err
		}
		if err := repo.DeleteMappings(ctx, channelID); err != nil {
			return err
		}
		if err := s.allocations.WithTx(tx).DeleteChannel(ctx, channelID); err != nil {
			return err
		}
		if err := repo.DeactivateChannel(ctx, channelID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChannelDisconnected,
			AggregateType: enums.AggregateChannel,
			AggregateID:   channelID,
			Actor:         actor,
			Data: payloads.ChannelDisconnectedEvent{
				ChannelID: channelID,
				StoreID:   storeID,
				Type:      channel.Type,
			},
		})
	})
	if err != nil {
		return err
	}

	s.connectors.Remove(channelID)
	s.logg.Info(ctx, "channel disconnected")
	return nil
}

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

func TestPruneWebhookLogsBefore(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	channelID := uuid.New()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, received := range []time.Time{cutoff.Add(-72 * time.Hour), cutoff.Add(-time.Hour), cutoff.Add(time.Hour)} {
		require.NoError(t, repo.CreateWebhookLog(ctx, &models.WebhookLog{
			ChannelType:    enums.ChannelTypeShopify,
			ChannelID:      &channelID,
			Payload:        []byte(`{}`),
			SignatureValid: true,
			Status:         enums.WebhookStatusProcessed,
			ReceivedAt:     received,
		}))
	}

	n, err := repo.PruneWebhookLogsBefore(ctx, nil, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	var left int64
	require.NoError(t, conn.Model(&models.WebhookLog{}).Count(&left).Error)
	require.EqualValues(t, 1, left)
}

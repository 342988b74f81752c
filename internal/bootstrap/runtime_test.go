package bootstrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

func TestRuntimeClosesInReverse(t *testing.T) {
	rt := &Runtime{Logger: logger.Nop()}
	var order []string
	track := func(name string, err error) closerFunc {
		return func() error {
			order = append(order, name)
			return err
		}
	}
	rt.OnClose("database", track("database", nil))
	rt.OnClose("redis", track("redis", errors.New("redis gone")))
	rt.OnClose("pubsub", track("pubsub", errors.New("pubsub gone")))

	err := rt.Close()
	require.Error(t, err)
	assert.Equal(t, []string{"pubsub", "redis", "database"}, order)
	assert.Len(t, multierr.Errors(err), 2)

	order = nil
	assert.NoError(t, rt.Close())
	assert.Empty(t, order)
}

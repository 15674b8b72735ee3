package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brassradar/models"
)

func TestKafkaDeliverHonorsContext(t *testing.T) {
	// Nothing listens on port 1; the record stays queued until ctx expires.
	k, err := NewKafka("127.0.0.1:1", "brassradar-alerts")
	require.NoError(t, err)
	defer k.Close()
	assert.Equal(t, "kafka", k.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = k.Deliver(ctx, models.Notification{Title: "Auction ended", Lines: []string{"Item: v1|1|0"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package queue

import (
	"context"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestFetchStopped(t *testing.T) {
	assert.True(t, fetchStopped(context.Canceled))
	assert.True(t, fetchStopped(fmt.Errorf("fetching message: %w", context.Canceled)))
	assert.True(t, fetchStopped(kafka.ErrGroupClosed))

	assert.False(t, fetchStopped(context.DeadlineExceeded))
	assert.False(t, fetchStopped(fmt.Errorf("broker unreachable")))
	assert.False(t, fetchStopped(nil))
}

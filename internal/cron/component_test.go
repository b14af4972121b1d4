package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSwallowLogsFailureWithoutPanicking(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := &Component{logger: zap.New(core).Named("cron")}

	failing := c.swallow("checkFollowersRefresh", func(ctx context.Context) error {
		return errors.New("boom")
	})

	assert.NotPanics(t, failing)

	entries := logs.FilterMessage("cron task failed").All()
	assert.Len(t, entries, 1)
}

func TestSwallowLogsNothingOnSuccess(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := &Component{logger: zap.New(core).Named("cron")}

	ok := c.swallow("deleteUnusedImages", func(ctx context.Context) error { return nil })
	ok()

	assert.Empty(t, logs.FilterMessage("cron task failed").All())
}

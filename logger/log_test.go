package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestDefaultLogger(t *testing.T) {
	assert.Equal(t, logrus.StandardLogger(), G(context.Background()))
}

func TestWithDropBoxEntry(t *testing.T) {
	l, hook := test.NewNullLogger()
	ctx := WithLogger(context.Background(), l)
	ctx = WithTask(ctx, "dropbox")
	ctx = WithDropBoxEntry(ctx, "data_app_anr", 42)

	G(ctx).Info("processing")

	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, "dropbox", entry.Data["task"])
		assert.Equal(t, "data_app_anr", entry.Data["entryTag"])
		assert.Equal(t, int64(42), entry.Data["entryTime"])
	}
}

package sysinfo

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	snap := Collect(context.Background(), log)
	require.NotNil(t, snap)

	assert.NotEmpty(t, snap.GoVersion)
	assert.Positive(t, snap.CPUCores)
	assert.False(t, snap.CollectedAt.IsZero())
}

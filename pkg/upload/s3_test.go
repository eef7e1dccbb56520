package upload

import (
	"testing"
	"time"

	"github.com/forcelab/eoltester/pkg/sequence"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestConfigValidate(t *testing.T) {
	disabled := Config{}
	assert.NoError(t, disabled.Validate())

	missingBucket := Config{Enabled: true}
	assert.Error(t, missingBucket.Validate())

	ok := Config{Enabled: true, Bucket: "results"}
	assert.NoError(t, ok.Validate())
}

func TestNewS3UploaderRejectsInvalidConfig(t *testing.T) {
	_, err := NewS3Uploader(quietLog(), Config{Enabled: true})
	require.Error(t, err)
}

func TestResolveKey(t *testing.T) {
	u := &s3Uploader{cfg: Config{Prefix: "archive/eol/"}}

	result := &sequence.TestResult{
		ExecutionID: "exec-42",
		StartedAt:   time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
	}

	assert.Equal(t, "archive/eol/2026-08-24/exec-42.json", u.resolveKey(result))
}

func TestResolveKeyDefaultPrefix(t *testing.T) {
	u := &s3Uploader{cfg: Config{}}

	result := &sequence.TestResult{
		ExecutionID: "exec-42",
		StartedAt:   time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
	}

	assert.Equal(t, "results/2026-08-24/exec-42.json", u.resolveKey(result))
}

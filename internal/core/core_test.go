package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	comphealth "github.com/glennpegden2/transfs/pkg/health"
	"github.com/glennpegden2/transfs/pkg/recovery"
)

func TestParsePort(t *testing.T) {
	assert.Equal(t, 8080, parsePort("", 8080))
	assert.Equal(t, 9100, parsePort("localhost:9100", 8080))
	assert.Equal(t, 9100, parsePort("0.0.0.0:9100", 8080))
	assert.Equal(t, 8080, parsePort("not-an-addr", 8080))
}

func TestUint32FromInt(t *testing.T) {
	assert.Equal(t, uint32(0), uint32FromInt(-1))
	assert.Equal(t, uint32(1000), uint32FromInt(1000))
}

func TestFilestoreComponentReportsReachability(t *testing.T) {
	tracker := comphealth.NewTracker(comphealth.DefaultConfig())
	tracker.RegisterComponent("filestore")

	dir := t.TempDir()
	f := &filestoreComponent{
		path:     dir,
		recovery: recovery.NewRecoveryManager(recovery.DefaultRecoveryConfig()),
		tracker:  tracker,
	}
	assert.Equal(t, "filestore", f.GetComponentName())
	assert.Equal(t, "storage", f.GetComponentType())
	assert.NoError(t, f.HealthCheck(context.Background()))

	f.path = dir + "/does-not-exist"
	assert.Error(t, f.HealthCheck(context.Background()))
}

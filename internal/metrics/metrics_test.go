package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgrab/sendgrab/internal/failure"
)

func TestRecordFile(t *testing.T) {
	m := New()

	m.RecordFile("downloaded", 100)
	m.RecordFile("downloaded", 50)
	m.RecordFile("skipped", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.filesTotal.WithLabelValues("downloaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesTotal.WithLabelValues("skipped")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.bytesDownloaded))
}

func TestRecordLinkAndError(t *testing.T) {
	m := New()

	m.RecordLink(nil)
	m.RecordLink(errors.New("x"))
	m.RecordError(failure.Newf(failure.Transfer, "download", "reset"))
	m.RecordError(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.linksTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linksTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("transfer")))
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordFile("downloaded", 10)
	m.ObserveRun(1500 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "sendgrab.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sendgrab_files_total{outcome="downloaded"} 1`)
	assert.Contains(t, string(data), "sendgrab_bytes_downloaded_total 10")
	assert.Contains(t, string(data), "sendgrab_run_duration_seconds 1.5")
}

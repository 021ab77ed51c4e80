package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docqa/internal/orchestrator"
)

func TestMetrics_ObserveRun(t *testing.T) {
	m := NewMetrics()

	m.ObserveRun(&orchestrator.Stats{
		Steps:     make([]orchestrator.Step, 3),
		Fallbacks: 2,
		Degraded:  1,
		Duration:  1500 * time.Millisecond,
	}, true)
	m.ObserveRun(&orchestrator.Stats{Fallbacks: 1}, false)
	m.ObserveRun(nil, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("done")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.documents.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.fallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded))
	assert.Equal(t, 1, testutil.CollectAndCount(m.subQuestions))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun(&orchestrator.Stats{Steps: make([]orchestrator.Step, 2)}, true)
	m.SetTokens(1200, 340)

	path := filepath.Join(t.TempDir(), "docqa.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `docqa_documents_total{status="done"} 1`)
	assert.Contains(t, out, `docqa_tokens{direction="input"} 1200`)
	assert.True(t, strings.Contains(out, "# TYPE docqa_sub_questions histogram"), out)
}

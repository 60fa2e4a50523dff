package auditlog_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trustchain-audit/trustchain/pkg/auditlog"
)

func TestLogger_Record_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := auditlog.NewLogger(slog.New(handler))

	logger.Record(context.Background(), auditlog.EventCA, "issue_intermediate", "ca:platform", nil)

	output := buf.String()
	assert.Contains(t, output, `"action":"issue_intermediate"`)
	assert.Contains(t, output, `"resource":"ca:platform"`)
	assert.Contains(t, output, `"type":"CA"`)
}

func TestLogger_Record_IncludesMetadataFields(t *testing.T) {
	var buf bytes.Buffer
	logger := auditlog.NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	logger.Record(context.Background(), auditlog.EventToolCert, "revoke", "tools.bash", map[string]interface{}{
		"reason": "prompt injection detected",
	})

	output := buf.String()
	assert.True(t, strings.Contains(output, "prompt injection detected"))
}

func TestNewLogger_NilFallsBackToDefault(t *testing.T) {
	logger := auditlog.NewLogger(nil)
	assert.NotNil(t, logger)
	// Should not panic when recording through the default logger.
	logger.Record(context.Background(), auditlog.EventSystem, "startup", "trustchain", nil)
}

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactWebhookURL(t *testing.T) {
	assert.Equal(t, "https://x.webhook.office.com/***",
		RedactWebhookURL("https://x.webhook.office.com/webhookb2/abc-123/IncomingWebhook/def"))
	assert.Equal(t, "***", RedactWebhookURL("not a url"))
	assert.Equal(t, "***", RedactWebhookURL(""))
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "co***@bitzer.de", redactPIIValue("sender", "controlup@bitzer.de"))
	assert.Equal(t, "co***@bitzer.de", redactPIIValue("email_id", "controlup@bitzer.de"))
	// embedded addresses in generic fields are masked too
	assert.Equal(t, "mail from co***@bitzer.de arrived",
		redactPIIValue("msg", "mail from controlup@bitzer.de arrived"))
	assert.Equal(t, "DEPROD01", redactPIIValue("machine", "DEPROD01"))
}

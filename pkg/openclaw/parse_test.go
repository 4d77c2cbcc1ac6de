package openclaw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePendingDevices(t *testing.T) {
	t.Parallel()

	t.Run("JSON array", func(t *testing.T) {
		output := `[
  {"request_id": "req-1", "channel": "whatsapp", "identifier": "+15551234567", "timestamp": "2026-08-01T10:00:00Z"},
  {"request_id": "req-2", "channel": "telegram", "identifier": "@someone", "timestamp": "2026-08-01T11:00:00Z"}
]`
		devices := ParsePendingDevices(output)
		require.Len(t, devices, 2)
		assert.Equal(t, "req-1", devices[0].RequestID)
		assert.Equal(t, "telegram", devices[1].Channel)
	})

	t.Run("JSON wrapped object", func(t *testing.T) {
		output := `{"devices": [{"request_id": "req-9", "channel": "whatsapp", "identifier": "x", "timestamp": "t"}]}`
		devices := ParsePendingDevices(output)
		require.Len(t, devices, 1)
		assert.Equal(t, "req-9", devices[0].RequestID)
	})

	t.Run("text fallback with two blocks", func(t *testing.T) {
		output := `Pending device pairing requests:

Request ID: req-abc123
Channel: whatsapp
Identifier: +15551234567
Timestamp: 2026-08-01T10:00:00Z

Request ID: req-def456
Channel: telegram
Identifier: @other
Timestamp: 2026-08-01T11:30:00Z

2 requests pending.`
		devices := ParsePendingDevices(output)
		require.Len(t, devices, 2)

		assert.Equal(t, "req-abc123", devices[0].RequestID)
		assert.Equal(t, "whatsapp", devices[0].Channel)
		assert.Equal(t, "+15551234567", devices[0].Identifier)
		assert.Equal(t, "2026-08-01T10:00:00Z", devices[0].Timestamp)

		assert.Equal(t, "req-def456", devices[1].RequestID)
		assert.Equal(t, "telegram", devices[1].Channel)
		assert.Equal(t, "@other", devices[1].Identifier)
		assert.Equal(t, "2026-08-01T11:30:00Z", devices[1].Timestamp)
	})

	t.Run("empty output", func(t *testing.T) {
		assert.Empty(t, ParsePendingDevices(""))
		assert.Empty(t, ParsePendingDevices("No pending requests."))
	})

	t.Run("incomplete trailing block is kept", func(t *testing.T) {
		output := "Request ID: req-1\nChannel: whatsapp"
		devices := ParsePendingDevices(output)
		require.Len(t, devices, 1)
		assert.Equal(t, "req-1", devices[0].RequestID)
		assert.Empty(t, devices[0].Timestamp)
	})
}

func TestExtractQRCode(t *testing.T) {
	t.Parallel()

	t.Run("extracts block after QR Code marker", func(t *testing.T) {
		logs := `2026-08-01T10:00:00Z app[d891] iad [info] Scan this QR Code with WhatsApp:
█████████████████
██ ▄▄▄▄▄ █▀█ ████
██ █   █ █▀▀▀█ ██
██ █▄▄▄█ █▀ █▀███
██▄▄▄▄▄▄▄█▄▀ ▀▄██
█████████████████
2026-08-01T10:00:01Z app[d891] iad [info] waiting for scan`
		qr := ExtractQRCode(logs)
		require.NotEmpty(t, qr)
		assert.Contains(t, qr, "█████████████████")
		assert.NotContains(t, qr, "waiting for scan")
	})

	t.Run("no marker", func(t *testing.T) {
		assert.Empty(t, ExtractQRCode("just some ordinary logs"))
	})

	t.Run("marker but no block", func(t *testing.T) {
		assert.Empty(t, ExtractQRCode("QR Code will be printed soon"))
	})
}

func TestParseDoctorOutput(t *testing.T) {
	t.Parallel()

	t.Run("JSON", func(t *testing.T) {
		report := ParseDoctorOutput(`{"ok": false, "issues": ["gateway token expired"], "warnings": []}`)
		assert.False(t, report.OK)
		require.Len(t, report.Issues, 1)
	})

	t.Run("text classification", func(t *testing.T) {
		output := `Checking gateway config... done
warn: channel telegram has no token
error: whatsapp session expired
Found 1 issue`
		report := ParseDoctorOutput(output)
		assert.False(t, report.OK)
		// "error" 行和 "issue" 行都记为问题
		assert.Len(t, report.Issues, 2)
		assert.Len(t, report.Warnings, 1)
	})

	t.Run("clean text", func(t *testing.T) {
		report := ParseDoctorOutput("All checks passed\n")
		assert.True(t, report.OK)
		assert.Empty(t, report.Issues)
	})
}

func TestParseHealthOutput(t *testing.T) {
	t.Parallel()

	t.Run("JSON with status", func(t *testing.T) {
		health := ParseHealthOutput(`{"status": "Healthy", "uptime_s": 120}`)
		assert.Equal(t, "healthy", health.Status)
		assert.NotNil(t, health.Detail)
	})

	t.Run("text ok", func(t *testing.T) {
		assert.Equal(t, "healthy", ParseHealthOutput("gateway is healthy").Status)
	})

	t.Run("text failure", func(t *testing.T) {
		assert.Equal(t, "unhealthy", ParseHealthOutput("connection failed").Status)
	})

	t.Run("unparseable", func(t *testing.T) {
		assert.Equal(t, "unknown", ParseHealthOutput("???").Status)
	})
}

func TestParseChannelsOutput(t *testing.T) {
	t.Parallel()

	t.Run("JSON array", func(t *testing.T) {
		channels := ParseChannelsOutput(`[{"name": "whatsapp", "status": "connected"}]`)
		require.Len(t, channels, 1)
		assert.Equal(t, "whatsapp", channels[0].Name)
	})

	t.Run("text lines", func(t *testing.T) {
		output := "whatsapp: connected\ntelegram: disconnected\nsome unrelated line\n"
		channels := ParseChannelsOutput(output)
		require.Len(t, channels, 2)
		assert.Equal(t, "disconnected", channels[1].Status)
	})

	t.Run("garbage", func(t *testing.T) {
		assert.Empty(t, ParseChannelsOutput("total garbage without structure"))
	})
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()

	t.Run("strips shell metacharacters", func(t *testing.T) {
		sanitized := SanitizeCommand("devices list; rm -rf /")
		assert.Equal(t, "devices list rm -rf /", sanitized)
		for _, c := range []string{";", "&", "|", "`", "$", "(", ")"} {
			assert.NotContains(t, sanitized, c)
		}
	})

	t.Run("strips substitution", func(t *testing.T) {
		sanitized := SanitizeCommand("health $(whoami) `id` && echo ok | cat")
		for _, c := range []string{";", "&", "|", "`", "$", "(", ")"} {
			assert.NotContains(t, sanitized, c)
		}
	})

	t.Run("clean command unchanged", func(t *testing.T) {
		assert.Equal(t, "devices list --json", SanitizeCommand("devices list --json"))
	})
}

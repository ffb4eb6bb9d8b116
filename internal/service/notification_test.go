package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/pix-charges/internal/service"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    service.NotificationKind
		entries []service.NotificationEntry
	}{
		{
			name:    "single with id",
			raw:     `{"id":"abc"}`,
			kind:    service.NotificationSingle,
			entries: []service.NotificationEntry{{TxID: "abc"}},
		},
		{
			name:    "single prefers txid over id",
			raw:     `{"txid":"first","id":"second","status":"CONCLUIDA"}`,
			kind:    service.NotificationSingle,
			entries: []service.NotificationEntry{{TxID: "first", Status: "CONCLUIDA"}},
		},
		{
			name: "gateway batch",
			raw:  `{"pix":[{"endToEndId":"E123","txid":"one","valor":"140.00","horario":"2024-03-01T12:00:00Z"},{"id":"two"}]}`,
			kind: service.NotificationBatch,
			entries: []service.NotificationEntry{
				{TxID: "one"},
				{TxID: "two"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := service.ParseNotification([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, n.Kind)
			assert.Equal(t, tt.entries, n.Entries)
		})
	}
}

func TestParseNotificationRejects(t *testing.T) {
	for _, raw := range []string{`null`, `"txid"`, `{"pix":null}`, `{"pix":[{"txid":""}]}`, `{"id":null}`} {
		t.Run(raw, func(t *testing.T) {
			_, err := service.ParseNotification([]byte(raw))
			assert.ErrorIs(t, err, service.ErrMalformedPayload)
		})
	}
}

func TestNotificationKindString(t *testing.T) {
	assert.Equal(t, "single", service.NotificationSingle.String())
	assert.Equal(t, "batch", service.NotificationBatch.String())
}

func TestTxID(t *testing.T) {
	id := service.NewTxID()
	assert.Len(t, id, 32)
	assert.True(t, service.ValidTxID(id))
	assert.NotEqual(t, id, service.NewTxID())

	valid := []string{
		"abcdefghijklmnopqrstuvwxyz",          // 26
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ012345678", // 35
	}
	invalid := []string{
		"",
		"abcdefghijklmnopqrstuvwxy",            // 25
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", // 36
		"a1b2c3d4-e5f6-a7b8-c9d0-e1f2a3b4c5d6",
		"a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6\n",
		"á1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d",
	}
	for _, s := range valid {
		assert.True(t, service.ValidTxID(s), s)
	}
	for _, s := range invalid {
		assert.False(t, service.ValidTxID(s), s)
	}
}

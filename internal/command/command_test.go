package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

const requestID = "0b6e1f52-8f0c-4f7e-9d0e-3c1f2a7b9e11"

func TestParseCallback_RoundTrip(t *testing.T) {
	commands := []Command{
		Claim(requestID),
		Approve(requestID),
		Release(requestID),
		PickReject(requestID),
		Reject(requestID, payment.FieldProof),
	}

	for _, c := range commands {
		data := c.Data()
		assert.LessOrEqual(t, len(data), 64, data)

		got, err := ParseCallback(data)
		require.NoError(t, err, data)
		assert.Equal(t, c, got)
	}
}

func TestParseCallback_Malformed(t *testing.T) {
	tests := []string{
		"",
		"claim",
		"claim:",
		"approve_42",
		"approve:" + requestID + ":amount",
		"reject:" + requestID,
		"reject:" + requestID + ":iban",
		"reject:" + requestID + ":",
		"delete:" + requestID,
	}

	for _, data := range tests {
		_, err := ParseCallback(data)
		assert.ErrorIs(t, err, ErrMalformed, data)
	}
}

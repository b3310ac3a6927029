package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderWritesTimestampedBlock(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, s.Send(context.Background(), "42", "BTCUSDT moved UP $10"))
	assert.Equal(t, "2024-01-02 03:04:05 [chat 42]\nBTCUSDT moved UP $10\n\n", buf.String())
}

package history

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-chat/backend/internal/event"
)

func TestDecodeEntries_SkipsUndecodable(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zapcore.WarnLevel)

	raw := []string{
		`{"event_type":"connected","username":"alice"}`,
		`{"event_type":"bogus"}`,
		`not json`,
		`{"event_type":"message","username":"alice","message":"hi"}`,
	}
	got := decodeEntries(raw, "chat:history", zap.New(core))

	req.Equal([]event.Event{event.Connected("alice"), event.Message("alice", "hi")}, got)
	entries := logs.FilterMessage("skipping undecodable history entry").All()
	req.Len(entries, 2)
	req.Equal(int64(1), entries[0].ContextMap()["index"])
	req.Equal(int64(2), entries[1].ContextMap()["index"])
}

package orchalog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWorkerAndPetitionTagFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, zerolog.InfoLevel)

	log := Petition(Worker(base, "intake"), "abc")
	log.Info().Msg("converted")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "intake", got["worker"])
	require.Equal(t, "abc", got["petition_id"])
	require.Equal(t, "converted", got["message"])
}

package diag

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	t.Parallel()

	err := Errorf(CRCMismatch, "ogg: read page", "stored 0x%08X, computed 0x%08X", 1, 2)
	wrapped := fmt.Errorf("decode: %w", err)

	assert.ErrorIs(t, wrapped, ErrCRCMismatch)
	assert.NotErrorIs(t, wrapped, ErrInvalidSignature)
	assert.Equal(t, CRCMismatch, KindOf(wrapped))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: InvalidChannels, Op: "vorbis: identification"}
	assert.Equal(t, "vorbis: identification: invalid_channels", err.Error())

	err = Errorf(InvalidSignature, "ogg: read page", "got %q", "OggX")
	assert.Equal(t, `ogg: read page: invalid_signature: got "OggX"`, err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, IO, KindOf(io.ErrUnexpectedEOF))
	assert.Equal(t, IO, KindOf(fmt.Errorf("ogg: read page: %w", io.ErrUnexpectedEOF)))
}

func TestUnwrapReachesDetail(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: IO, Op: "vorbis: identification", Err: io.ErrUnexpectedEOF}
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestKindStringsAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]Kind)
	for k := IO; k <= InvalidPacketType; k++ {
		name := k.String()
		prev, dup := seen[name]
		require.False(t, dup, "kind %d and %d share name %q", prev, k, name)
		seen[name] = k
	}
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestWarningJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Warning{Code: WarnZeroFramingBit, Message: "comments framing bit unset"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"zero_framing_bit","message":"comments framing bit unset"}`, string(b))
}

func TestWarningJSONRoundTrip(t *testing.T) {
	t.Parallel()

	for code := WarnZeroFramingBit; code <= WarnPageSequenceGap; code++ {
		in := Warning{Code: code, Message: "detail"}
		b, err := json.Marshal(in)
		require.NoError(t, err)

		var out Warning
		require.NoError(t, json.Unmarshal(b, &out), "warning %s", b)
		assert.Equal(t, in, out)
	}

	var w Warning
	assert.Error(t, json.Unmarshal([]byte(`{"code":"no_such_warning"}`), &w))
}

func TestKindJSONRoundTrip(t *testing.T) {
	t.Parallel()

	for k := IO; k <= InvalidPacketType; k++ {
		b, err := json.Marshal(k)
		require.NoError(t, err)

		var got Kind
		require.NoError(t, json.Unmarshal(b, &got), "kind %s", b)
		assert.Equal(t, k, got)
	}

	var k Kind
	assert.Error(t, json.Unmarshal([]byte(`"kind(99)"`), &k))
}

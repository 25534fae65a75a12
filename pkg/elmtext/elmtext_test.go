package elmtext

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		capacity int
		want     []byte
		strategy Strategy
		id       uint32
	}{
		{
			name:     "framed line",
			text:     "7EC 06 62 01 05 12 34 56\r\r>",
			capacity: 128,
			want:     []byte{0x62, 0x01, 0x05, 0x12, 0x34, 0x56},
			strategy: StrategyFreeLine,
			id:       0x7EC,
		},
		{
			name:     "plain line",
			text:     "62 01 05 AA\r>",
			capacity: 128,
			want:     []byte{0x62, 0x01, 0x05, 0xAA},
			strategy: StrategyFreeLine,
		},
		{
			name:     "extended identifier with tabs",
			text:     "\t18DAF110\t03 7F 22 31 \r\n",
			capacity: 128,
			want:     []byte{0x7F, 0x22, 0x31},
			strategy: StrategyFreeLine,
			id:       0x18DAF110,
		},
		{
			name:     "indexed lines",
			text:     "00A\r0: 62 01 05 01 02 03\r1: 04 05 06 07\r\r>",
			capacity: 128,
			want:     []byte{0x62, 0x01, 0x05, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
			strategy: StrategyIndexed,
		},
		{
			name:     "indexed capped by declared length",
			text:     "008\r0: 62 01 05 01 02 03\r1: 04 05 00 00 00 00 00\r",
			capacity: 128,
			want:     []byte{0x62, 0x01, 0x05, 0x01, 0x02, 0x03, 0x04, 0x05},
			strategy: StrategyIndexed,
		},
		{
			name:     "indexed capped by capacity",
			text:     "0: 62 01 05 01 02 03\r1: 04 05 06 07",
			capacity: 4,
			want:     []byte{0x62, 0x01, 0x05, 0x01},
			strategy: StrategyIndexed,
		},
		{
			name:     "index prefix on free line",
			text:     "SEARCHING...\r3: 62 01 05\r",
			capacity: 128,
			want:     []byte{0x62, 0x01, 0x05},
			strategy: StrategyFreeLine,
		},
		{
			name:     "non hex three char token is payload",
			text:     "XYZ 62 01\r62 01 05",
			capacity: 128,
			want:     []byte{0x62, 0x01, 0x05},
			strategy: StrategyFreeLine,
		},
		{
			name:     "status lines skipped",
			text:     "OK\rBUS INIT: ...OK\r7E8 03 41 0D 00",
			capacity: 128,
			want:     []byte{0x41, 0x0D, 0x00},
			strategy: StrategyFreeLine,
			id:       0x7E8,
		},
		{
			name:     "bare fallback",
			text:     "7EC 06",
			capacity: 128,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.text, tt.capacity)
			if tt.want == nil {
				assert.ErrorIs(t, err, ErrNoPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Data)
			assert.Equal(t, tt.strategy, f.Strategy)
			assert.Equal(t, tt.id, f.ID)
		})
	}
}

func TestParseAllKeepsLaterLines(t *testing.T) {
	all := ParseAll("220105\r7EC 06 62 01 05 12 34 56\r>", 64)
	require.Len(t, all, 2)
	assert.Equal(t, []byte{0x22, 0x01, 0x05}, all[0].Data)
	assert.Equal(t, []byte{0x62, 0x01, 0x05, 0x12, 0x34, 0x56}, all[1].Data)
}

func TestParseBareWhenHeaderStrippingEmpties(t *testing.T) {
	f, err := Parse("ABC 120", 8)
	require.NoError(t, err)
	assert.Equal(t, StrategyBare, f.Strategy)
	assert.Equal(t, []byte{0xAB, 0xC1, 0x20}, f.Data)
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  []byte
		id    uint32
		hasID bool
	}{
		{"header and data", "7E8 03 62 01 05 00 00 00", []byte{0x03, 0x62, 0x01, 0x05, 0x00, 0x00, 0x00}, 0x7E8, true},
		{"dlc shown", "7E8 8 10 0A 62 01 05 01 02 03", []byte{0x10, 0x0A, 0x62, 0x01, 0x05, 0x01, 0x02, 0x03}, 0x7E8, true},
		{"data only", "21 04 05 06 07 00 00 00", []byte{0x21, 0x04, 0x05, 0x06, 0x07, 0x00, 0x00, 0x00}, 0, false},
		{"spaces off", "7E803620105", []byte{0x03, 0x62, 0x01, 0x05}, 0x7E8, true},
		{"dollar", "$7E8,03,62,01,05", []byte{0x03, 0x62, 0x01, 0x05}, 0x7E8, true},
		{"dollar doubled", "$7E8,0303,6262", []byte{0x03, 0x62}, 0x7E8, true},
		{"extended", "18DAF110 03 62 01 05", []byte{0x03, 0x62, 0x01, 0x05}, 0x18DAF110, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Data)
			assert.Equal(t, tt.id, f.ID)
			assert.Equal(t, tt.hasID, f.HasID)
		})
	}
}

func TestParseFrameRejects(t *testing.T) {
	_, err := ParseFrame("")
	assert.ErrorIs(t, err, ErrNoPayload)

	_, err = ParseFrame("STOPPED")
	assert.ErrorIs(t, err, ErrNoPayload)

	_, err = ParseFrame("CAN ERROR")
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "CAN ERROR", aerr.Message)

	_, err = ParseFrame("7E8 0G 11")
	assert.Error(t, err)
}

func TestCheckError(t *testing.T) {
	assert.NoError(t, CheckError("7E8 03 62 01 05\r>"))
	assert.NoError(t, CheckError("NO DATA\r>"))

	err := CheckError("?\r>")
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.True(t, aerr.CommandRejected())

	err = CheckError("BUFFER FULL")
	require.True(t, errors.As(err, &aerr))
	assert.False(t, aerr.CommandRejected())

	assert.True(t, IsNoData("NO DATA\r\r>"))
	assert.False(t, IsNoData("62 01"))
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{"7E8 03", "OK"}, Lines(">7E8 03 \r\n\r\n OK\t\r>"))
	assert.Empty(t, Lines("\r\n>"))
}

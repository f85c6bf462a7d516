package beacon_test

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/beaconmon/internal/beacon"
)

func TestTier_Satisfies(t *testing.T) {
	tests := []struct {
		granted  beacon.Tier
		required beacon.Tier
		want     bool
	}{
		{beacon.TierAlways, beacon.TierAlways, true},
		{beacon.TierAlways, beacon.TierWhileInUse, true},
		{beacon.TierWhileInUse, beacon.TierWhileInUse, true},
		{beacon.TierWhileInUse, beacon.TierAlways, false},
		{beacon.TierDenied, beacon.TierWhileInUse, false},
		{beacon.TierDenied, beacon.TierAlways, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s covers %s", tt.granted, tt.required), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.granted.Satisfies(tt.required))
		})
	}
}

func TestTier_TextRoundTrip(t *testing.T) {
	for _, name := range []string{"denied", "whileInUse", "always"} {
		tier, err := beacon.ParseTier(name)
		require.NoError(t, err)
		assert.Equal(t, name, tier.String())
	}

	_, err := beacon.ParseTier("sometimes")
	assert.ErrorIs(t, err, beacon.ErrInvalidArgument)
}

func TestError_IsComparesByCode(t *testing.T) {
	err := fmt.Errorf("start background monitoring: %w", beacon.Errorf(beacon.CodeBluetoothDisabled, "adapter hci0 is off"))

	assert.ErrorIs(t, err, beacon.ErrBluetoothDisabled)
	assert.NotErrorIs(t, err, beacon.ErrLocationDisabled)
	assert.Equal(t, beacon.CodeBluetoothDisabled, beacon.CodeOf(err))
	assert.Equal(t, beacon.CodeUnexpected, beacon.CodeOf(errors.New("boom")))
	assert.Equal(t, "bluetoothDisabled: adapter hci0 is off", errors.Unwrap(err).Error())
}

func TestRegion_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		region  beacon.Region
		want    beacon.Region
		wantErr bool
	}{
		{
			name:   "canonicalizes uuid and numbers",
			region: beacon.Region{Identifier: "lobby", IDs: []string{"F7826DA6-4FA2-4E98-8024-BC5B71E0893E", "0010", "7"}},
			want:   beacon.Region{Identifier: "lobby", IDs: []string{"f7826da6-4fa2-4e98-8024-bc5b71e0893e", "10", "7"}},
		},
		{
			name:   "drops trailing wildcards",
			region: beacon.Region{Identifier: "any", IDs: []string{"f7826da6-4fa2-4e98-8024-bc5b71e0893e", "", ""}},
			want:   beacon.Region{Identifier: "any", IDs: []string{"f7826da6-4fa2-4e98-8024-bc5b71e0893e"}},
		},
		{
			name:   "uppercases address",
			region: beacon.Region{Identifier: "tag", BluetoothAddress: "aa:bb:cc:dd:ee:ff"},
			want:   beacon.Region{Identifier: "tag", BluetoothAddress: "AA:BB:CC:DD:EE:FF"},
		},
		{name: "rejects empty identifier", region: beacon.Region{Identifier: " "}, wantErr: true},
		{name: "rejects bad uuid", region: beacon.Region{Identifier: "x", IDs: []string{"nope"}}, wantErr: true},
		{name: "rejects major overflow", region: beacon.Region{Identifier: "x", IDs: []string{"", "70000"}}, wantErr: true},
		{name: "rejects four ids", region: beacon.Region{Identifier: "x", IDs: []string{"", "1", "2", "3"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.region.Normalize()
			if tt.wantErr {
				assert.ErrorIs(t, err, beacon.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegion_Matches(t *testing.T) {
	b := beacon.Beacon{
		IDs:              []string{"f7826da6-4fa2-4e98-8024-bc5b71e0893e", "10", "7"},
		BluetoothAddress: "AA:BB:CC:DD:EE:FF",
	}

	assert.True(t, beacon.Region{Identifier: "all"}.Matches(b))
	assert.True(t, beacon.Region{Identifier: "uuid", IDs: []string{"F7826DA6-4FA2-4E98-8024-BC5B71E0893E"}}.Matches(b))
	assert.True(t, beacon.Region{Identifier: "minor", IDs: []string{"", "", "7"}}.Matches(b))
	assert.False(t, beacon.Region{Identifier: "major", IDs: []string{"", "11"}}.Matches(b))
	assert.False(t, beacon.Region{Identifier: "addr", BluetoothAddress: "11:22:33:44:55:66"}.Matches(b))
}

func TestMonitoringEvent_JSON(t *testing.T) {
	region := beacon.Region{Identifier: "lobby", IDs: []string{"f7826da6-4fa2-4e98-8024-bc5b71e0893e"}}

	enter, err := json.Marshal(beacon.Enter(region))
	require.NoError(t, err)
	assert.JSONEq(t, `{"region":{"identifier":"lobby","ids":["f7826da6-4fa2-4e98-8024-bc5b71e0893e"]},"type":"didEnterRegion"}`, string(enter))

	state, err := json.Marshal(beacon.DetermineState(region, beacon.StateOutside))
	require.NoError(t, err)
	assert.JSONEq(t, `{"region":{"identifier":"lobby","ids":["f7826da6-4fa2-4e98-8024-bc5b71e0893e"]},"type":"didDetermineState","state":"outside"}`, string(state))

	var decoded beacon.MonitoringEvent
	require.NoError(t, json.Unmarshal(state, &decoded))
	assert.Equal(t, beacon.DetermineState(region, beacon.StateOutside), decoded)
}

func TestLayout_DecodeIBeacon(t *testing.T) {
	layout := beacon.MustParseLayout(beacon.IBeaconLayout)
	data, err := hex.DecodeString("4c000215f7826da64fa24e988024bc5b71e0893e000a0007c5")
	require.NoError(t, err)

	ids, txPower, ok := layout.Decode(data)

	require.True(t, ok)
	assert.Equal(t, []string{"f7826da6-4fa2-4e98-8024-bc5b71e0893e", "10", "7"}, ids)
	assert.Equal(t, -59, txPower)
}

func TestLayout_RejectsForeignPayload(t *testing.T) {
	layout := beacon.MustParseLayout(beacon.IBeaconLayout)

	_, _, ok := layout.Decode([]byte{0x4c, 0x00, 0x02, 0x15})
	assert.False(t, ok, "short payload")

	alt, err := hex.DecodeString("1801beacf7826da64fa24e988024bc5b71e0893e000a0007c500")
	require.NoError(t, err)
	_, _, ok = layout.Decode(alt)
	assert.False(t, ok, "AltBeacon frame under iBeacon layout")

	ids, _, ok := beacon.MustParseLayout(beacon.AltBeaconLayout).Decode(alt)
	require.True(t, ok)
	assert.Equal(t, "10", ids[1])
}

func TestParseLayout_Errors(t *testing.T) {
	for _, expr := range []string{
		"",
		"i:4-19",
		"m:2-3=02,i:4-19",
		"m:2-3=0215",
		"m:2-3=0215,i:19-4",
		"m:2-3=0215,x:4-19",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := beacon.ParseLayout(expr)
			assert.Error(t, err)
		})
	}
}

func TestEstimateDistance(t *testing.T) {
	assert.Equal(t, -1.0, beacon.EstimateDistance(-59, 0))
	assert.InDelta(t, 1.0, beacon.EstimateDistance(-59, -59), 0.02)
	assert.Less(t, beacon.EstimateDistance(-59, -40), 1.0)
	assert.Greater(t, beacon.EstimateDistance(-59, -80), 2.0)
}

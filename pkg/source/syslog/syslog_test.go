package syslog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseModeScenario covers spec scenario S7: header_mode=parse on
// an RFC3164 line must strip the header and attach pri/facility/severity
// tags derived from the PRI value.
func TestParseModeScenario(t *testing.T) {
	raw := []byte("<34>Oct 11 22:14:15 mymachine su: su root failed")
	msg, tags := ApplyHeaderMode(raw, Parse)

	require.Equal(t, "su root failed", string(msg))
	require.Equal(t, "34", tags["syslog.pri"])
	require.Equal(t, "auth", tags["syslog.facility"])
	require.Equal(t, "crit", tags["syslog.severity"])
}

func TestStripModeOmitsTags(t *testing.T) {
	raw := []byte("<34>Oct 11 22:14:15 mymachine su: su root failed")
	msg, tags := ApplyHeaderMode(raw, Strip)
	require.Equal(t, "su root failed", string(msg))
	require.Nil(t, tags)
}

func TestKeepModePassesThroughUnchanged(t *testing.T) {
	raw := []byte("<34>Oct 11 22:14:15 mymachine su: su root failed")
	msg, tags := ApplyHeaderMode(raw, Keep)
	require.Equal(t, string(raw), string(msg))
	require.Nil(t, tags)
}

func TestNormalizeMalformedHeaderPassesThrough(t *testing.T) {
	raw := []byte("not a syslog line at all")
	frame := Normalize(raw)
	require.Nil(t, frame.Meta.PRI)
	require.Equal(t, string(raw), string(frame.Message))
}

func TestNormalizeRFC5424NilValueStructuredData(t *testing.T) {
	raw := []byte("<165>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog - ID47 - BOM'su root' failed")
	frame := Normalize(raw)
	require.NotNil(t, frame.Meta.PRI)
	require.Equal(t, 165, *frame.Meta.PRI)
	require.Equal(t, "BOM'su root' failed", string(frame.Message))
}

func TestNormalizeRFC5424BracketedStructuredData(t *testing.T) {
	raw := []byte(`<165>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog - ID47 [exampleSDID@32473 iut="3"] hello`)
	frame := Normalize(raw)
	require.NotNil(t, frame.Meta.PRI)
	require.Equal(t, "hello", string(frame.Message))
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStatusTag(t *testing.T) {
	cases := map[string]Status{
		"red":    StatusPending,
		"yellow": StatusInProgress,
		"green":  StatusFinished,
		"":       StatusPending,
		"blue":   StatusPending,
		"GREEN":  StatusPending,
	}
	for tag, want := range cases {
		assert.Equal(t, want, DecodeStatusTag(tag), "tag %q", tag)
	}
}

func TestStatusTagRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusInProgress, StatusFinished} {
		assert.Equal(t, s, DecodeStatusTag(EncodeStatusTag(s)))
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseStatus("yellow")
	assert.Error(t, err)
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(Transition{IncidentID: "r1", Old: StatusPending, New: StatusFinished})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"old_status":"PENDING"`)
	assert.Contains(t, string(data), `"new_status":"FINISHED"`)

	var tr Transition
	require.NoError(t, json.Unmarshal(data, &tr))
	assert.Equal(t, StatusFinished, tr.New)
}

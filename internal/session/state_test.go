package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMarshalJSON(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{None, `"none"`},
		{URL, `"url"`},
		{Path, `"path"`},
		{Kind(42), `"unknown"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.kind)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, string(data))
	}
}

func TestKindUnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected Kind
		wantErr  bool
	}{
		{`"none"`, None, false},
		{`"url"`, URL, false},
		{`"path"`, Path, false},
		{`"folder"`, None, true},
		{`3`, None, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var k Kind
			err := json.Unmarshal([]byte(tt.input), &k)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, k)
		})
	}
}

func TestReferenceTarget(t *testing.T) {
	tests := []struct {
		name  string
		ref   Reference
		want  string
		local bool
	}{
		{"none", Reference{}, "", false},
		{"url", URLReference("https://example.com/a.png"), "https://example.com/a.png", false},
		{"path", PathReference("/pics/a.png", "http://127.0.0.1:4242/t/a.png"), "http://127.0.0.1:4242/t/a.png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ref.Target())
			assert.Equal(t, tt.local, tt.ref.IsLocal())
		})
	}
}

func TestReferenceJSONShape(t *testing.T) {
	data, err := json.Marshal(PathReference("/pics/a.png", "http://127.0.0.1:1/x/a.png"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"path","path":"/pics/a.png","address":"http://127.0.0.1:1/x/a.png"}`, string(data))

	data, err = json.Marshal(Reference{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"none"}`, string(data))
}

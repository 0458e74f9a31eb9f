package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestCanonicalSortedKeysNoWhitespace(t *testing.T) {
	got := Canonical(Message{Role: "user", Content: "hello"})
	assert.Equal(t, `{"content":"hello","role":"user"}`, string(got))
}

func TestCanonicalDefaultsRoleToUnknown(t *testing.T) {
	got := Canonical(Message{Content: "x"})
	assert.Equal(t, `{"content":"x","role":"unknown"}`, string(got))
}

func TestCanonicalDoesNotEscapeHTML(t *testing.T) {
	got := Canonical(Message{Role: "user", Content: "<b> & </b>"})
	assert.Equal(t, `{"content":"<b> & </b>","role":"user"}`, string(got))
}

func TestHashText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"string content",
			`"just a string"`,
			"just a string",
		},
		{
			"text blocks concatenated without separator",
			`[{"type":"text","text":"one"},{"type":"text","text":"two"}]`,
			"onetwo",
		},
		{
			"non-text blocks ignored",
			`[{"type":"thinking","thinking":"hm"},{"type":"text","text":"a"},{"type":"tool_use","name":"Bash"}]`,
			"a",
		},
		{
			"empty array",
			`[]`,
			"",
		},
		{
			"object content",
			`{"unexpected":true}`,
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HashText(gjson.Parse(tt.content))
			assert.Equal(t, tt.want, got)
		})
	}
}

// ABOUTME: Tests for the moderation gate
// ABOUTME: Covers plain matches, markdown evasion, substitutions, and false positives

package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_Check(t *testing.T) {
	gate := Default()

	tests := []struct {
		name    string
		text    string
		allowed bool
	}{
		{"plain greeting", "hello, how is the new job?", true},
		{"empty", "", true},
		{"blocked word", "badword", false},
		{"blocked word in sentence", "that was a Badword, honestly", false},
		{"markdown split", "**bad**word", false},
		{"inline code", "`badword`", false},
		{"fenced code", "```\nbadword\n```", false},
		{"leet substitution", "sc4m alert", false},
		{"spelled out", "b-a-d-w-o-r-d", false},
		{"multi word term", "please SHUT... up", false},
		{"substring is fine", "scampi for dinner at the reunion", true},
		{"link destination", "[click](https://example.com/scam)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gate.Check(tt.text)
			assert.Equal(t, tt.allowed, got.Allowed, "text %q", tt.text)
			if !tt.allowed {
				assert.NotEmpty(t, got.Term)
			}
		})
	}
}

func TestGate_CustomTerms(t *testing.T) {
	gate := New([]string{"Recruiter Spam", "  "})

	assert.False(t, gate.Check("more recruiter-spam today").Allowed)
	assert.True(t, gate.Check("badword").Allowed, "custom list replaces defaults")
}

func TestGate_Pure(t *testing.T) {
	gate := Default()
	first := gate.Check("badword")
	second := gate.Check("badword")
	assert.Equal(t, first, second)
}

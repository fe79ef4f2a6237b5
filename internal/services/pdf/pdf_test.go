package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRenderer_Render(t *testing.T) {
	renderer := NewRenderer(arbor.NewLogger())

	tests := []struct {
		name string
		doc  Document
	}{
		{
			name: "empty",
			doc:  Document{},
		},
		{
			name: "leave message",
			doc: Document{
				Title:    "Leave request: Annual Leave",
				Subtitle: "From Zoë Müller, 2024-05-02",
				Markdown: "Hi,\n\nPlease approve my **annual leave** from *6 May* to *10 May*.\n\n- 5 days\n- Cover: [Sam](mailto:sam@example.com)\n\n> Sent from the portal",
			},
		},
		{
			name: "table and code",
			doc: Document{
				Title: "Balances",
				Markdown: "| Type | Taken | Remaining |\n|---|---|---|\n| Annual | 12 | 13 |\n| Sick | 1 | 9 |\n\n" +
					"```\nref: 0042\n```\n\n---\n\n`inline`",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := renderer.Render(tt.doc)
			require.NoError(t, err)
			assert.True(t, IsPDF(data))
			assert.NoError(t, Validate(data))
		})
	}
}

func TestValidate_RejectsNonPDF(t *testing.T) {
	err := Validate([]byte("<!doctype html><html><title>Error</title></html>"))
	assert.ErrorIs(t, err, ErrNotPDF)

	assert.ErrorIs(t, Validate(nil), ErrNotPDF)
}

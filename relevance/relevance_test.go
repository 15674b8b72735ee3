package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	allow = []string{"brass", "lok", "locomotive", "h0", "modell"}
	deny  = []string{"wiha", "screwdriver", "werkzeug"}
)

func TestIsRelevant(t *testing.T) {
	f := New(allow, deny)

	tests := []struct {
		title string
		want  bool
	}{
		{"Micro-Metakit BR 01 Brass Locomotive H0", true},
		{"MICRO-FEINMECHANIK DAMPFLOK MODELL", true},
		{"Micro-Metakit brass screwdriver set", false},
		{"Wiha Micro-Feinmechanik Schraubendreher", false},
		{"Micro-Metakit spare box", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsRelevant(tt.title))
		})
	}
}

func TestDenyTakesPrecedence(t *testing.T) {
	f := New(allow, deny)
	for _, a := range allow {
		for _, d := range deny {
			title := "Vintage " + a + " with " + d
			assert.False(t, f.IsRelevant(title), title)
		}
	}
}

func TestNoAllowTermRejected(t *testing.T) {
	f := New(allow, deny)
	for _, title := range []string{"random item", "WIHA set", "screwdriver werkzeug", "Micro-Metakit"} {
		assert.False(t, f.IsRelevant(title), title)
	}
}

func TestBrandLabel(t *testing.T) {
	b := NewBrands([]Brand{
		{Name: "Micro-Metakit", Keywords: []string{"micro-metakit", "metakit"}},
		{Name: "Micro-Feinmechanik"},
	})

	assert.Equal(t, "Micro-Metakit", b.Label("MICRO-METAKIT BR 18"))
	assert.Equal(t, "Micro-Feinmechanik", b.Label("micro-feinmechanik E 94"))
	assert.Equal(t, OtherBrand, b.Label("Fulgurex Pacific"))
}

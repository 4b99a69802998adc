package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type answer struct {
	Option *int   `json:"option" binding:"required,min=0"`
	Kind   string `json:"kind" binding:"required,oneof=a b"`
}

func TestStructTranslatesFieldErrors(t *testing.T) {
	Setup()

	fields := Struct(&answer{Kind: "c"})
	assert.Contains(t, fields, "option")
	assert.Contains(t, fields, "kind")
	assert.Contains(t, fields["option"], "required")

	zero := 0
	assert.Nil(t, Struct(&answer{Option: &zero, Kind: "a"}))
}

func TestSummaryIsSorted(t *testing.T) {
	got := Summary(map[string]string{"b": "second", "a": "first"})
	assert.Equal(t, "first; second", got)
}

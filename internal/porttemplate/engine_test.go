package porttemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyPortTemplateOwnPort(t *testing.T) {
	assert.Equal(t, "http://localhost:3001", ApplyPortTemplate("http://localhost:$PORT", 3001))
}

func TestApplyPortTemplateMissingOwnPortLeavesTokenIntact(t *testing.T) {
	assert.Equal(t, "http://localhost:$PORT", ApplyPortTemplate("http://localhost:$PORT", 0))
}

func TestApplyBracedOwnToken(t *testing.T) {
	assert.Equal(t, "http://localhost:3001", ApplyPortTemplate("http://localhost:${PORT}", 3001))
}

func TestApplyNamedTokenExpands(t *testing.T) {
	got := Apply("http://localhost:${PORT:api}", 0, map[string]int{"api": 4100})
	assert.Equal(t, "http://localhost:4100", got)
}

func TestApplyNamedTokenPreservedWhenUnknown(t *testing.T) {
	got := Apply("http://localhost:${PORT:api}", 0, map[string]int{})
	assert.Equal(t, "http://localhost:${PORT:api}", got)
}

func TestApplyNamedThenOwnToken(t *testing.T) {
	got := Apply("API=http://localhost:${PORT:api} SELF=$PORT", 5000, map[string]int{"api": 4100})
	assert.Equal(t, "API=http://localhost:4100 SELF=5000", got)
}

func TestApplyEnvExpandsEveryValue(t *testing.T) {
	env := map[string]string{
		"A": "$PORT",
		"B": "${PORT:api}",
	}
	out := ApplyEnv(env, 9000, map[string]int{"api": 4100})
	assert.Equal(t, "9000", out["A"])
	assert.Equal(t, "4100", out["B"])
}

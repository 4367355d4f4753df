package achievement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"ctfscore/internal/domain"
)

func TestCheck_RecoversFromPanickingRule(t *testing.T) {
	s := &Service{}

	def := Definition{
		Code: "broken",
		Kind: domain.KindTeam,
		Check: func(h History) bool {
			panic("rule bug")
		},
	}

	assert.False(t, s.check(context.Background(), def, History{}),
		"a panicking rule counts as not earned")
}

func TestCheck_PassesVerdictThrough(t *testing.T) {
	s := &Service{}

	def := Definition{
		Code:  "always",
		Kind:  domain.KindTeam,
		Check: func(h History) bool { return true },
	}
	assert.True(t, s.check(context.Background(), def, History{}))
}

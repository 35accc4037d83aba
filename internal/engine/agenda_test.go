package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwarch/ruse/internal/ir"
)

func pendingActivation(rule string, salience int, group string, seq int64) *Activation {
	return &Activation{
		Rule: &ir.RuleSpec{Name: rule, Salience: salience, Group: group},
		Seq:  seq,
		Key:  rule + "/" + string(rune('a'+seq)),
	}
}

func TestAgendaSalienceOrder(t *testing.T) {
	a := NewAgenda()
	a.Add(pendingActivation("low", 5, "", 1))
	a.Add(pendingActivation("high", 10, "", 2))
	a.Add(pendingActivation("mid", 7, "", 3))

	assert.Equal(t, "high", a.Next().Rule.Name)
	assert.Equal(t, "mid", a.Next().Rule.Name)
	assert.Equal(t, "low", a.Next().Rule.Name)
	assert.Nil(t, a.Next())
}

func TestAgendaSeqBreaksTies(t *testing.T) {
	a := NewAgenda()
	a.Add(pendingActivation("second", 5, "", 9))
	a.Add(pendingActivation("first", 5, "", 3))

	// Equal salience: creation order wins
	assert.Equal(t, "first", a.Next().Rule.Name)
	assert.Equal(t, "second", a.Next().Rule.Name)
}

func TestAgendaRemove(t *testing.T) {
	a := NewAgenda()
	act := pendingActivation("r", 5, "", 1)
	a.Add(act)

	removed := a.Remove(act.Key)
	require.NotNil(t, removed)
	assert.Equal(t, act.Key, removed.Key)
	assert.Nil(t, a.Next())

	// Removing again is a no-op
	assert.Nil(t, a.Remove(act.Key))
}

func TestAgendaDuplicateKeyAbsorbed(t *testing.T) {
	a := NewAgenda()
	act := pendingActivation("r", 5, "", 1)
	a.Add(act)
	a.Add(act)

	assert.Equal(t, 1, a.Len())
}

func TestAgendaFocusStack(t *testing.T) {
	a := NewAgenda()
	a.Add(pendingActivation("main-rule", 100, "", 1))
	a.Add(pendingActivation("audit-rule", 1, "audit", 2))

	// Without focus, only MAIN fires
	assert.Equal(t, MainGroup, a.Focused())

	a.SetFocus("audit")
	assert.Equal(t, "audit", a.Focused())

	// Focused group drains first despite lower salience
	assert.Equal(t, "audit-rule", a.Next().Rule.Name)

	// Emptied group pops back to MAIN
	assert.Equal(t, "main-rule", a.Next().Rule.Name)
	assert.Equal(t, MainGroup, a.Focused())
}

func TestAgendaGroupLen(t *testing.T) {
	a := NewAgenda()
	a.Add(pendingActivation("a", 5, "", 1))
	a.Add(pendingActivation("b", 5, "audit", 2))
	a.Add(pendingActivation("c", 5, "audit", 3))

	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 1, a.GroupLen(MainGroup))
	assert.Equal(t, 2, a.GroupLen("audit"))
}

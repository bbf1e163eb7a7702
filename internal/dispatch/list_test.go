package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestList_NotifyOrderAndRemove(t *testing.T) {
	l := NewList[string]("state", nil, nil)

	var got []string
	a := l.Add(func(v string) { got = append(got, "a:"+v) })
	l.Add(func(v string) { got = append(got, "b:"+v) })

	assert.Equal(t, 2, l.Notify("x"))
	assert.True(t, l.Remove(a.ID))
	assert.False(t, l.Remove(a.ID))
	assert.Equal(t, 1, l.Notify("y"))

	assert.Equal(t, []string{"a:x", "b:x", "b:y"}, got)
	assert.Equal(t, 1, l.Len())
}

func TestList_PanicDoesNotStopNotify(t *testing.T) {
	var hooked any
	l := NewList[int]("state", nil, func(_ string, r any) { hooked = r })

	calls := 0
	l.Add(func(int) { panic("observer failed") })
	l.Add(func(int) { calls++ })

	assert.Equal(t, 1, l.Notify(1))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "observer failed", hooked)
}

func TestList_Clear(t *testing.T) {
	l := NewList[int]("state", nil, nil)
	calls := 0
	l.Add(func(int) { calls++ })

	l.Clear()
	l.Notify(1)

	assert.Zero(t, calls)
	assert.Zero(t, l.Len())
}

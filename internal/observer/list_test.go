package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestList_NotifyInRegistrationOrder(t *testing.T) {
	var l List[int]
	var got []string

	l.Subscribe(func(v int) { got = append(got, "a") })
	l.Subscribe(func(v int) { got = append(got, "b") })
	l.Subscribe(func(v int) { got = append(got, "c") })

	l.Notify(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestList_UnsubscribeIsIdempotent(t *testing.T) {
	var l List[struct{}]
	calls := 0
	unsub := l.Subscribe(func(struct{}) { calls++ })

	unsub()
	unsub()
	l.Notify(struct{}{})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, l.Len())
}

func TestList_SelfUnsubscribeDuringNotify(t *testing.T) {
	var l List[int]
	var got []string

	var unsubA func()
	unsubA = l.Subscribe(func(int) {
		got = append(got, "a")
		unsubA()
	})
	l.Subscribe(func(int) { got = append(got, "b") })
	l.Subscribe(func(int) { got = append(got, "c") })

	l.Notify(1)
	assert.Equal(t, []string{"a", "b", "c"}, got, "later subscribers still run after an earlier one leaves")

	got = nil
	l.Notify(2)
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestList_SubscribeDuringNotifyTakesEffectNextTime(t *testing.T) {
	var l List[int]
	count := 0
	l.Subscribe(func(int) {
		l.Subscribe(func(int) { count++ })
	})

	l.Notify(1)
	assert.Equal(t, 0, count)
	l.Notify(2)
	assert.Equal(t, 1, count)
}

func TestList_PanicIsRecoveredAndOthersRun(t *testing.T) {
	var l List[string]
	var recovered []any
	l.OnPanic(func(r any) { recovered = append(recovered, r) })

	ran := false
	l.Subscribe(func(string) { panic("bad subscriber") })
	l.Subscribe(func(string) { ran = true })

	assert.NotPanics(t, func() { l.Notify("x") })
	assert.True(t, ran)
	assert.Equal(t, []any{"bad subscriber"}, recovered)
}

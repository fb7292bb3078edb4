package list_test

import (
	"testing"

	"github.com/distortos-go/kernel/list"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	id   int
	node *list.Node
}

func newWidget(id int) *widget {
	w := &widget{id: id}
	w.node = list.NewNode(w)
	return w
}

func TestListPushAndOrder(t *testing.T) {
	l := list.New()
	a, b, c := newWidget(1), newWidget(2), newWidget(3)

	l.PushBack(a.node)
	l.PushBack(b.node)
	l.PushFront(c.node)

	require.Equal(t, 3, l.Len())

	var got []int
	l.Do(func(n *list.Node) { got = append(got, list.Of[widget](n).id) })
	assert.Equal(t, []int{3, 1, 2}, got)
}

func TestListRemoveByNodeOnly(t *testing.T) {
	l := list.New()
	a, b, c := newWidget(1), newWidget(2), newWidget(3)
	l.PushBack(a.node)
	l.PushBack(b.node)
	l.PushBack(c.node)

	list.Remove(b.node)
	assert.False(t, b.node.Linked())
	require.Equal(t, 2, l.Len())

	var got []int
	l.Do(func(n *list.Node) { got = append(got, list.Of[widget](n).id) })
	assert.Equal(t, []int{1, 3}, got)
}

func TestListInsertOrderedDescendingWithFIFOTiebreak(t *testing.T) {
	l := list.New()
	priorities := []int{5, 3, 5, 1, 5}
	var widgets []*widget
	for i, p := range priorities {
		w := newWidget(p)
		widgets = append(widgets, w)
		_ = i
		l.InsertOrdered(w.node, func(existing *list.Node) bool {
			return list.Of[widget](existing).id < p
		})
	}

	var got []int
	l.Do(func(n *list.Node) { got = append(got, list.Of[widget](n).id) })
	// three priority-5 entries preserve insertion order (indices 0, 2, 4),
	// then priority 3, then priority 1.
	assert.Equal(t, []int{5, 5, 5, 3, 1}, got)
}

func TestForwardListOrderedByPriority(t *testing.T) {
	fl := list.NewForwardList()
	type entry struct {
		priority uint8
		node     *list.ForwardNode
	}
	mk := func(p uint8) *entry {
		e := &entry{priority: p}
		e.node = list.NewForwardNode(e)
		return e
	}
	e1, e2, e3 := mk(50), mk(10), mk(30)
	for _, e := range []*entry{e1, e2, e3} {
		p := e.priority
		fl.InsertOrdered(e.node, func(existing *list.ForwardNode) bool {
			return list.ForwardOf[entry](existing).priority > p
		})
	}
	var got []uint8
	fl.Do(func(n *list.ForwardNode) { got = append(got, list.ForwardOf[entry](n).priority) })
	assert.Equal(t, []uint8{10, 30, 50}, got)
}

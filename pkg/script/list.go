package script

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// boundList is a list attribute whose items live in configuration state.
// Every read loads the current items and every edit stores the full list
// back, so in-place edits such as p.libraries.append(...) reach the Process.
type boundList struct {
	owner string
	load  func() ([]starlark.Value, error)
	store func([]starlark.Value) error
}

// newBoundList creates a bound list whose edits are converted to Go values
// and handed to store.
func newBoundList(owner string, load func() ([]starlark.Value, error), store func(any) error) *boundList {
	return &boundList{
		owner: owner,
		load:  load,
		store: func(items []starlark.Value) error {
			goVal, err := fromStarlarkValue(starlark.NewList(items))
			if err != nil {
				return err
			}
			return store(goVal)
		},
	}
}

var boundListMethods = methodTable{
	"append": starlark.NewBuiltin("append", boundListAppend),
	"clear":  starlark.NewBuiltin("clear", boundListClear),
	"extend": starlark.NewBuiltin("extend", boundListExtend),
	"index":  starlark.NewBuiltin("index", boundListIndex),
	"insert": starlark.NewBuiltin("insert", boundListInsert),
	"pop":    starlark.NewBuiltin("pop", boundListPop),
	"remove": starlark.NewBuiltin("remove", boundListRemove),
}

var (
	_ starlark.HasSetIndex = (*boundList)(nil)
	_ starlark.Sliceable   = (*boundList)(nil)
	_ starlark.Iterable    = (*boundList)(nil)
	_ starlark.HasBinary   = (*boundList)(nil)
	_ starlark.HasAttrs    = (*boundList)(nil)
)

// items returns the current items, or nil when they cannot be loaded.
// Callers that can report errors use load directly.
func (l *boundList) items() []starlark.Value {
	items, err := l.load()
	if err != nil {
		return nil
	}
	return items
}

func (l *boundList) String() string       { return starlark.NewList(l.items()).String() }
func (l *boundList) Type() string         { return "list" }
func (l *boundList) Freeze()              {}
func (l *boundList) Truth() starlark.Bool { return l.Len() > 0 }
func (l *boundList) Len() int             { return len(l.items()) }
func (l *boundList) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: list")
}

// Index requires 0 <= i < Len().
func (l *boundList) Index(i int) starlark.Value {
	return l.items()[i]
}

// Iterate walks a snapshot, so edits inside the loop do not affect it.
func (l *boundList) Iterate() starlark.Iterator {
	snapshot := starlark.NewList(l.items())
	snapshot.Freeze()
	return snapshot.Iterate()
}

func (l *boundList) Slice(start, end, step int) starlark.Value {
	return starlark.NewList(l.items()).Slice(start, end, step)
}

func (l *boundList) SetIndex(i int, v starlark.Value) error {
	return l.edit(func(items []starlark.Value) ([]starlark.Value, error) {
		items[i] = v
		return items, nil
	})
}

func (l *boundList) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	switch op {
	case syntax.PLUS:
		other, ok := y.(starlark.Indexable)
		if !ok {
			return nil, nil
		}
		if _, isList := y.(*starlark.List); !isList {
			if _, isBound := y.(*boundList); !isBound {
				return nil, nil
			}
		}
		left, right := l.items(), indexableItems(other)
		if side == starlark.Right {
			left, right = right, left
		}
		return starlark.NewList(append(append([]starlark.Value{}, left...), right...)), nil
	case syntax.IN:
		if side != starlark.Right {
			return nil, nil
		}
		i, err := indexOf(l.items(), y)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(i >= 0), nil
	}
	return nil, nil
}

func (l *boundList) Attr(name string) (starlark.Value, error) {
	if m, ok := boundListMethods.bind(name, l); ok {
		return m, nil
	}
	return nil, nil
}

func (l *boundList) AttrNames() []string { return sortedNames(boundListMethods.names()) }

// edit loads the items, applies fn to a private copy, and stores the result.
func (l *boundList) edit(fn func([]starlark.Value) ([]starlark.Value, error)) error {
	items, err := l.load()
	if err != nil {
		return fmt.Errorf("%s: %w", l.owner, err)
	}
	items, err = fn(append([]starlark.Value{}, items...))
	if err != nil {
		return err
	}
	if err := l.store(items); err != nil {
		return fmt.Errorf("%s: %w", l.owner, err)
	}
	return nil
}

func indexableItems(x starlark.Indexable) []starlark.Value {
	out := make([]starlark.Value, x.Len())
	for i := range out {
		out[i] = x.Index(i)
	}
	return out
}

func indexOf(items []starlark.Value, x starlark.Value) (int, error) {
	for i, item := range items {
		eq, err := starlark.Equal(item, x)
		if err != nil {
			return -1, err
		}
		if eq {
			return i, nil
		}
	}
	return -1, nil
}

func receiverList(b *starlark.Builtin) *boundList {
	return b.Receiver().(*boundList)
}

func boundListAppend(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	err := receiverList(b).edit(func(items []starlark.Value) ([]starlark.Value, error) {
		return append(items, x), nil
	})
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func boundListExtend(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	var extra []starlark.Value
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		extra = append(extra, x)
	}
	err := receiverList(b).edit(func(items []starlark.Value) ([]starlark.Value, error) {
		return append(items, extra...), nil
	})
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func boundListInsert(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		index int
		x     starlark.Value
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &index, &x); err != nil {
		return nil, err
	}
	err := receiverList(b).edit(func(items []starlark.Value) ([]starlark.Value, error) {
		n := len(items)
		if index < 0 {
			index += n
		}
		switch {
		case index < 0:
			index = 0
		case index > n:
			index = n
		}
		items = append(items, nil)
		copy(items[index+1:], items[index:])
		items[index] = x
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func boundListPop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	index := -1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &index); err != nil {
		return nil, err
	}
	var popped starlark.Value
	err := receiverList(b).edit(func(items []starlark.Value) ([]starlark.Value, error) {
		n := len(items)
		i := index
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, fmt.Errorf("%s: index %d out of range [%d:%d]", b.Name(), index, -n, n)
		}
		popped = items[i]
		return append(items[:i], items[i+1:]...), nil
	})
	if err != nil {
		return nil, err
	}
	return popped, nil
}

func boundListRemove(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	err := receiverList(b).edit(func(items []starlark.Value) ([]starlark.Value, error) {
		i, err := indexOf(items, x)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return nil, fmt.Errorf("%s: element not found", b.Name())
		}
		return append(items[:i], items[i+1:]...), nil
	})
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func boundListClear(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	err := receiverList(b).edit(func([]starlark.Value) ([]starlark.Value, error) {
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func boundListIndex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	items, err := receiverList(b).load()
	if err != nil {
		return nil, err
	}
	i, err := indexOf(items, x)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, fmt.Errorf("%s: value not in list", b.Name())
	}
	return starlark.MakeInt(i), nil
}

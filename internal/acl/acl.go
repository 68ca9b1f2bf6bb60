// Package acl resolves and evaluates sender/chat access lists.
//
// A nil List means unrestricted. Non-nil lists are always sorted ascending and
// de-duplicated so membership is a binary search.
package acl

import (
	"slices"
	"sort"
)

// List is a sorted set of Telegram identifiers. A nil List admits everyone.
type List []int64

// NewList builds a sorted, de-duplicated List. An empty input yields nil.
func NewList(ids ...int64) List {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return List(slices.Compact(out))
}

// Allowed reports whether id is admitted by list.
func Allowed(list List, id int64) bool {
	if list == nil {
		return true
	}
	return list.Contains(id)
}

// Contains reports whether id is a member of the list. A nil list contains nothing.
func (l List) Contains(id int64) bool {
	i := sort.Search(len(l), func(i int) bool { return l[i] >= id })
	return i < len(l) && l[i] == id
}

// Policy pairs an allow list with a deny list. Deny takes precedence.
type Policy struct {
	Allow List
	Deny  List
}

// Admits reports whether id passes the policy.
func (p Policy) Admits(id int64) bool {
	if p.Deny.Contains(id) {
		return false
	}
	return Allowed(p.Allow, id)
}

// Inherit resolves the effective policy of a command: each list comes from the
// most specific level that sets it (command, then bot, then global).
func Inherit(global, bot, command Policy) Policy {
	return Policy{
		Allow: firstSet(command.Allow, bot.Allow, global.Allow),
		Deny:  firstSet(command.Deny, bot.Deny, global.Deny),
	}
}

func firstSet(lists ...List) List {
	for _, l := range lists {
		if l != nil {
			return l
		}
	}
	return nil
}

// Package vmregion implements the virtual region free list of spec
// §4.4 (component C4): a contiguous virtual range [REGION_START,
// REGION_END) tiled by an ordered list of FREE/ALLOCATED nodes.
// allocate/free/check_address_range are grounded on
// original_source/on_demand.c's same-named functions. The source
// links nodes into a circular list and guards coalescing with
// `neighbour.page_addr != page`, a check meant to stop a node from
// coalescing with itself that, on a circular list, also silently
// disables coalescing against the list head (spec §9's open
// question). This package resolves that question per the spec's own
// suggestion: the list is sentinel-terminated, not circular, so there
// is no head node to accidentally skip.
package vmregion

import "petmem/defs"

// Status is a region node's allocation state.
type Status int

const (
	Free Status = iota
	Allocated
)

// Node is one tiled span of the region list: spec §3's
// {start_page, size_in_pages, status}.
type Node struct {
	StartPage uint64
	SizePages uint64
	Status    Status

	prev, next *Node
}

// / End returns the page number one past the node's span.
func (n *Node) End() uint64 { return n.StartPage + n.SizePages }

// List is the sentinel-terminated doubly linked list covering
// [startPage, startPage+totalPages) (spec §4.4).
type List struct {
	head, tail *Node // sentinels; never carry data, never coalesced against
}

// / New creates a list with a single FREE node spanning the whole
// / range (the init() contract of spec §4.4).
func New(startPage, totalPages uint64) *List {
	l := &List{head: &Node{}, tail: &Node{}}
	n := &Node{StartPage: startPage, SizePages: totalPages, Status: Free}
	l.head.next = n
	n.prev = l.head
	n.next = l.tail
	l.tail.prev = n
	return l
}

func (l *List) insertAfter(after, n *Node) {
	n.prev = after
	n.next = after.next
	after.next.prev = n
	after.next = n
}

func (l *List) remove(n *Node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

// / Allocate finds the first FREE node with size >= pages (first fit),
// / splits it if the node is larger than requested, and marks the
// / (possibly split) node ALLOCATED. Returns the start page and true,
// / or ok=false if no FREE node is large enough.
func (l *List) Allocate(pages uint64) (uint64, bool) {
	for n := l.head.next; n != l.tail; n = n.next {
		if n.Status != Free || n.SizePages < pages {
			continue
		}
		if n.SizePages == pages {
			n.Status = Allocated
			return n.StartPage, true
		}
		remainder := &Node{
			StartPage: n.StartPage + pages,
			SizePages: n.SizePages - pages,
			Status:    Free,
		}
		l.insertAfter(n, remainder)
		n.SizePages = pages
		n.Status = Allocated
		return n.StartPage, true
	}
	return 0, false
}

// / Free locates the ALLOCATED node starting at exactly startPage,
// / marks it FREE, and coalesces with a FREE neighbour on either side
// / (spec §4.4). Returns the freed node's original span (for the
// / caller to tear down physical backing) and true, or ok=false if no
// / ALLOCATED node starts there.
func (l *List) Free(startPage uint64) (Node, bool) {
	var found *Node
	for n := l.head.next; n != l.tail; n = n.next {
		if n.Status == Allocated && n.StartPage == startPage {
			found = n
			break
		}
	}
	if found == nil {
		return Node{}, false
	}
	freed := Node{StartPage: found.StartPage, SizePages: found.SizePages, Status: Allocated}

	found.Status = Free
	if next := found.next; next != l.tail && next.Status == Free {
		found.SizePages += next.SizePages
		l.remove(next)
	}
	if prev := found.prev; prev != l.head && prev.Status == Free {
		found.StartPage = prev.StartPage
		found.SizePages += prev.SizePages
		l.remove(prev)
	}
	return freed, true
}

// / Find returns the node whose span contains page, if any.
func (l *List) Find(page uint64) (*Node, bool) {
	for n := l.head.next; n != l.tail; n = n.next {
		if page >= n.StartPage && page < n.End() {
			return n, true
		}
	}
	return nil, false
}

// / CheckAddressRange implements check_address_range: page is valid
// / only if it falls within an ALLOCATED node (spec §4.5/§8: a fault
// / one page past the end of a region, or outside any region, is
// / fatal). Returns defs.EFAULT when invalid.
func (l *List) CheckAddressRange(page uint64) defs.Err_t {
	n, ok := l.Find(page)
	if !ok || n.Status != Allocated {
		return defs.EFAULT
	}
	return 0
}

// / Nodes returns every node in list order, for DUMP_STATE and tests.
// / The returned slice must not be mutated.
func (l *List) Nodes() []Node {
	var out []Node
	for n := l.head.next; n != l.tail; n = n.next {
		out = append(out, Node{StartPage: n.StartPage, SizePages: n.SizePages, Status: n.Status})
	}
	return out
}

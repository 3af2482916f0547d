package cache

import (
	"container/list"
	"time"
)

type LRUOpts struct {
	// Size is the maximum number of entries (default 128).
	Size int
	// Clock is used for TTL checks (default time.Now).
	Clock func() time.Time
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key string
	val any
	ttl time.Duration
}

// LRU is a size bounded cache evicting the least recently used entry.
type LRU struct {
	getCh chan getReq
	putCh chan putReq
	delCh chan string
	lenCh chan chan int
	done  chan struct{}
	clock func() time.Time
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l := &LRU{
		getCh: make(chan getReq),
		putCh: make(chan putReq),
		delCh: make(chan string),
		lenCh: make(chan chan int),
		done:  make(chan struct{}),
		clock: opts.Clock,
	}

	go l.run(opts.Size)

	return l
}

// Get returns the value for key. A closed cache always misses.
func (l *LRU) Get(key string) (any, bool) {
	resp := make(chan getResp, 1)
	select {
	case l.getCh <- getReq{key: key, resp: resp}:
	case <-l.done:
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	select {
	case l.putCh <- putReq{key: key, val: val, ttl: po.TTL}:
	case <-l.done:
	}
}

func (l *LRU) Delete(key string) {
	select {
	case l.delCh <- key:
	case <-l.done:
	}
}

// Len returns the number of entries, including expired ones not yet dropped.
func (l *LRU) Len() int {
	resp := make(chan int, 1)
	select {
	case l.lenCh <- resp:
	case <-l.done:
		return 0
	}
	return <-resp
}

// Close stops the cache goroutine. It is safe to call more than once.
func (l *LRU) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

func (l *LRU) run(size int) {
	ll := list.New()
	items := make(map[string]*list.Element)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(items, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-l.done:
			return

		case req := <-l.getCh:
			ele, ok := items[req.key]
			if ok {
				e := ele.Value.(*entry)
				if !e.expiresAt.IsZero() && !l.clock().Before(e.expiresAt) {
					remove(ele)
					ok = false
				} else {
					ll.MoveToFront(ele)
					req.resp <- getResp{val: e.val, ok: true}
				}
			}
			if !ok {
				req.resp <- getResp{}
			}

		case req := <-l.putCh:
			var expiresAt time.Time
			if req.ttl > 0 {
				expiresAt = l.clock().Add(req.ttl)
			}
			if ele, ok := items[req.key]; ok {
				ll.MoveToFront(ele)
				e := ele.Value.(*entry)
				e.val = req.val
				e.expiresAt = expiresAt
				continue
			}
			items[req.key] = ll.PushFront(&entry{key: req.key, val: req.val, expiresAt: expiresAt})
			if ll.Len() > size {
				if last := ll.Back(); last != nil {
					remove(last)
				}
			}

		case key := <-l.delCh:
			if ele, ok := items[key]; ok {
				remove(ele)
			}

		case resp := <-l.lenCh:
			resp <- ll.Len()
		}
	}
}

var _ Cache = (*LRU)(nil)

package ovnet

import "sync"

// reassemblyPool recycles the scratch structures used to hold in-flight
// fragmented packets (spec.md §4.1).
var reassemblyPool = sync.Pool{New: func() interface{} { return new(reassembly) }}

func allocReassembly() *reassembly {
	return reassemblyPool.Get().(*reassembly)
}

func freeReassembly(r *reassembly) {
	*r = reassembly{}
	reassemblyPool.Put(r)
}

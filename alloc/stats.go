package alloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString dumps the allocator's budget position as a JSON string:
// how many native allocations are live against the device limit, and the
// memory types available to future requests.
func (a *Allocator) BuildStatsString() string {
	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	rootObj.Name("AllocationCount").Int(int(a.allocationCount.Load()))
	rootObj.Name("MaxMemoryAllocationCount").Int(a.info.Properties().Limits.MaxMemoryAllocationCount)

	typeArr := rootObj.Name("MemoryTypes").Array()
	for _, memoryType := range a.info.MemoryTypes() {
		o := typeArr.Object()
		o.Name("Index").Int(memoryType.Index)
		o.Name("HeapIndex").Int(memoryType.HeapIndex)
		o.Name("HeapSize").Int(memoryType.HeapSize)
		o.Name("Flags").Int(int(memoryType.Flags))
		o.End()
	}
	typeArr.End()

	rootObj.End()
	return string(writer.Bytes())
}

package registry

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString dumps the live handle table as a JSON string, grouped by
// Kind. When detailed is true, every live handle is listed with its name and
// dependency IDs.
func (r *Registry) BuildStatsString(detailed bool) string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	rootObj.Name("TotalRegistered").Int(int(r.nextID))
	rootObj.Name("Live").Int(r.liveCount)

	var liveByKind [kindCount]int
	r.entries.Iter(func(id ID, e *entry) bool {
		if !e.destroyed {
			liveByKind[e.kind]++
		}
		return false
	})

	kindObj := rootObj.Name("LiveByKind").Object()
	for kind := Kind(0); kind < kindCount; kind++ {
		if liveByKind[kind] > 0 {
			kindObj.Name(kind.String()).Int(liveByKind[kind])
		}
	}
	kindObj.End()

	if detailed {
		handleArr := rootObj.Name("Handles").Array()
		r.entries.Iter(func(id ID, e *entry) bool {
			if e.destroyed {
				return false
			}

			o := handleArr.Object()
			o.Name("ID").Int(int(e.id))
			o.Name("Kind").String(e.kind.String())
			if e.name != "" {
				o.Name("Name").String(e.name)
			}
			if len(e.dependsOn) > 0 {
				depArr := o.Name("DependsOn").Array()
				for _, dep := range e.dependsOn {
					depArr.Int(int(dep))
				}
				depArr.End()
			}
			o.End()
			return false
		})
		handleArr.End()
	}

	rootObj.End()

	return string(writer.Bytes())
}

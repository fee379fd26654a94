package gi

import (
	"sync"

	"github.com/gekko3d/lumen/lumenrt/rt/core"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// cullChunk is the number of objects tested per pool task.
const cullChunk = 64

// CullObjectsAgainstCascade returns the objects whose world bounds touch cascade i, in input order.
// The tests run on the worker pool; the call returns once every chunk has finished.
func (m *VoxelGIManager) CullObjectsAgainstCascade(i int, objects []*core.SceneObject) []*core.SceneObject {
	m.checkIndex(i)
	return cullParallel(m.pool, m.cascades[i].Bounds, objects)
}

func cullSerial(bounds core.AABB, objects []*core.SceneObject) []*core.SceneObject {
	var out []*core.SceneObject
	for _, o := range objects {
		if touches(bounds, o) {
			out = append(out, o)
		}
	}
	return out
}

func touches(bounds core.AABB, o *core.SceneObject) bool {
	b := o.WorldAABB()
	return !b.IsEmpty() && b.Intersects(bounds)
}

func cullParallel(pool worker.DynamicWorkerPool, bounds core.AABB, objects []*core.SceneObject) []*core.SceneObject {
	if pool == nil || len(objects) <= cullChunk {
		return cullSerial(bounds, objects)
	}

	// Each task owns a disjoint range of keep, so no locking is needed.
	keep := make([]bool, len(objects))
	var wg sync.WaitGroup
	taskID := 0
	for start := 0; start < len(objects); start += cullChunk {
		end := min(start+cullChunk, len(objects))
		lo, hi := start, end
		wg.Add(1)
		pool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				for j := lo; j < hi; j++ {
					keep[j] = touches(bounds, objects[j])
				}
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()

	var out []*core.SceneObject
	for j, k := range keep {
		if k {
			out = append(out, objects[j])
		}
	}
	return out
}

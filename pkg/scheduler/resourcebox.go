// Package scheduler implements candidate filtering, resource-box
// computation, and the five dispatch policies of spec §4.G.
package scheduler

import (
	"github.com/cuemby/taskforge/pkg/category"
	"github.com/cuemby/taskforge/pkg/types"
)

// ResourceBox computes the concrete resource envelope a task would
// occupy on worker w, per spec §4.G:
//
//  1. start from the category's chosen allocation profile (first or max,
//     depending on the task's current escalation label);
//  2. overlay the task's explicit resource request;
//  3. if proportional scaling is enabled and nothing forces whole-worker
//     use, scale unspecified resources proportionally to the worker;
//  4. otherwise default unspecified resources to "whole worker" (gpus
//     default to 0);
//  5. raise every dimension to at least the category's floor.
func ResourceBox(t *types.Task, w *types.Worker, categories *category.Engine, proportional, wholeTasks bool) types.Resources {
	box := categories.TaskMaxResources(t)
	overlayRequest(&box, t.Request)

	wantsWholeWorker := t.Request.Cores < 0 // sentinel: caller asked for "whole worker"

	if proportional && !wholeWorkerForced(box, w) && !wantsWholeWorker {
		proportionalScale(&box, w, wholeTasks)
	} else {
		defaultWholeWorker(&box, w)
	}

	floor := categories.TaskMinResources(t)
	raiseToFloor(&box, floor)
	return box
}

func overlayRequest(box *types.Resources, req types.Resources) {
	if req.Cores > 0 {
		box.Cores = req.Cores
	}
	if req.Memory > 0 {
		box.Memory = req.Memory
	}
	if req.Disk > 0 {
		box.Disk = req.Disk
	}
	if req.GPUs > 0 {
		box.GPUs = req.GPUs
	}
	if req.WallTime > 0 {
		box.WallTime = req.WallTime
	}
	if !req.End.IsZero() {
		box.End = req.End
	}
	if !req.Start.IsZero() {
		box.Start = req.Start
	}
}

// wholeWorkerForced reports whether the box already claims the worker's
// entire capacity along some dimension, which disables proportional
// scaling for the rest (spec §4.G: "no resource forces whole-worker use").
func wholeWorkerForced(box types.Resources, w *types.Worker) bool {
	return box.Cores >= float64(w.Resources.Cores.Total) && w.Resources.Cores.Total > 0
}

// proportionalScale scales unspecified dimensions so that the largest
// explicitly-specified resource exactly fits the worker's capacity; with
// wholeTasks set, the proportion is rounded so an integer number of tasks
// fit (spec §4.G, open question on rounding vs. floors is resolved in
// DESIGN.md: whole-task rounding happens before the floor is applied).
func proportionalScale(box *types.Resources, w *types.Worker, wholeTasks bool) {
	ratio := dominantRatio(*box, w)
	if ratio <= 0 || ratio >= 1 {
		return
	}
	if wholeTasks {
		n := 1.0 / ratio
		wholeN := float64(int64(n))
		if wholeN < 1 {
			wholeN = 1
		}
		ratio = 1.0 / wholeN
	}
	if box.Cores == 0 {
		box.Cores = float64(w.Resources.Cores.Total) * ratio
	}
	if box.Memory == 0 {
		box.Memory = int64(float64(w.Resources.Memory.Total) * ratio)
	}
	if box.Disk == 0 {
		box.Disk = int64(float64(w.Resources.Disk.Total) * ratio)
	}
}

// dominantRatio is the fraction of the worker's capacity the largest
// explicitly specified dimension in box occupies.
func dominantRatio(box types.Resources, w *types.Worker) float64 {
	var ratio float64
	if box.Cores > 0 && w.Resources.Cores.Total > 0 {
		r := box.Cores / float64(w.Resources.Cores.Total)
		if r > ratio {
			ratio = r
		}
	}
	if box.Memory > 0 && w.Resources.Memory.Total > 0 {
		r := float64(box.Memory) / float64(w.Resources.Memory.Total)
		if r > ratio {
			ratio = r
		}
	}
	if box.Disk > 0 && w.Resources.Disk.Total > 0 {
		r := float64(box.Disk) / float64(w.Resources.Disk.Total)
		if r > ratio {
			ratio = r
		}
	}
	return ratio
}

func defaultWholeWorker(box *types.Resources, w *types.Worker) {
	if box.Cores == 0 {
		box.Cores = float64(w.Resources.Cores.Total)
	}
	if box.Memory == 0 {
		box.Memory = w.Resources.Memory.Total
	}
	if box.Disk == 0 {
		box.Disk = w.Resources.Disk.Total
	}
	// gpus default to 0 when unspecified, per spec §4.G.
}

func raiseToFloor(box *types.Resources, floor types.Resources) {
	if floor.Cores > box.Cores {
		box.Cores = floor.Cores
	}
	if floor.Memory > box.Memory {
		box.Memory = floor.Memory
	}
	if floor.Disk > box.Disk {
		box.Disk = floor.Disk
	}
	if floor.GPUs > box.GPUs {
		box.GPUs = floor.GPUs
	}
}

// Package pipeline runs ordered pass catalogs against a scene.
//
// [Executor.Run] applies each [Pass] through an [Applier] strictly in
// ascending ordinal order, waiting for pass n before starting pass n+1.
// Every completed pass appends a [PassResult] holding the content snapshot
// and the number of changes made. After the last pass the scene can be
// re-scored to compute the improvement.
//
// A failing pass halts the run. The returned [Run] keeps the results of
// the passes before it, and [Executor.Resume] can continue from the
// first missing pass when the caller decides to.
//
// # Usage
//
//	exec := pipeline.NewExecutor(client,
//	    pipeline.WithScorer(scorer),
//	    pipeline.WithBus(bus),
//	    pipeline.WithLogger(logger),
//	)
//	run, err := exec.Run(ctx, artifact, pipeline.SixPassCatalog())
//	if err != nil && run != nil {
//	    // run.Results holds passes 1..run.FailedPass-1
//	}
package pipeline

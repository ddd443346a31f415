// Package scenario drives a load test through an ordered list of phases.
//
// Every phase runs in one-second cycles. A concurrency phase launches
// exactly Concurrency simultaneous requests per cycle; a rate phase launches
// exactly Rate requests per cycle. The engine waits for the whole batch,
// then sleeps out whatever is left of the cycle. A batch that overruns its
// cycle is followed immediately by the next one; missed cycles are not made
// up.
//
//	engine := scenario.New(scenario.Options{
//		Phases:     phases,
//		Dispatcher: dispatcher,
//		Collector:  collector,
//		MaxBatch:   1000,
//	})
//	summary, err := engine.Run(ctx)
//
// Cancelling ctx stops the run between batches or during the pacing sleep.
// Requests already in flight run on a context detached from ctx, so they
// finish or time out on their own and are still counted. Run then returns
// the partial summary. Run only returns an error for invalid options, and
// does so before sending any traffic.
package scenario

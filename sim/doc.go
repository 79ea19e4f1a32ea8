// Package sim holds the shared types of the neuron simulation orchestrator.
//
// # Reading Guide
//
// Start with these files to understand the data that flows through a run:
//   - config.go: SimulationConfig (the request) and its validation
//   - plan.go: ExecutionPlan and SynapseSeries (what the worker executes)
//   - record.go: QueueRecord, the tagged union sent from worker to parent
//   - event.go: StreamEvent and BatchResult (what the caller receives)
//   - errors.go: ConfigurationError, SimulationError, WorkerLostError, CleanupError
//
// # Architecture
//
// The sim package defines interfaces and bridge types; implementations live in
// sub-packages:
//   - sim/plan/: StimulationPlanBuilder (config -> ExecutionPlan, spike trains)
//   - sim/worker/: worker process spawning and the child-side worker body
//   - sim/stream/: the drain loop and its realtime/batch adapters
//   - sim/orchestrator/: per-request execution, cleanup and state machine
//   - sim/engine/: cell engine implementations
//   - sim/catalog/: model catalog clients
//   - sim/store/: simulation status and result persistence
//   - sim/metrics/: Prometheus instrumentation
//
// sim/engine registers its constructor via init() by setting the package-level
// factory variable NewCellEngineFunc.
package sim

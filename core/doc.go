// Package core holds the records VectorWave writes to the vector store.
//
// Two logical collections exist:
//   - functions: one FunctionDescriptor per instrumented function, keyed by
//     a deterministic ID derived from module and name
//   - executions: one ExecutionRecord per call, referencing the descriptor
//     ID and optionally the trace and span it ran in
package core

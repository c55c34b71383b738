// Package engine implements the build-orchestration core of StackMason:
// dependency-ordered plan generation, the per-stack launch state machine
// (resolve, publish template, build parameters, submit create-or-update,
// report status), and parameter resolution with deployed-value fallback.
//
// The engine consumes a Provider (the remote stack API), a TemplatePublisher
// (remote template storage), the generic plan executor in pkg/plan, and the
// hook runner in pkg/hooks. Expected provider signals (stack does not exist,
// nothing to update) are translated into terminal Status values and never
// escape the launch state machine; every other error propagates to the plan
// executor, which records the node as failed and withholds its dependents.
package engine

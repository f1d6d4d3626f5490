// Package orchestrator assembles and supervises the whole pipeline.
//
// Start wires the codec, broker, dead-letter queue and database, then
// builds every enabled publisher and subscriber from their factory
// registries and brings them up in dependency order. A health monitor
// restarts components that stop running, with a bounded number of attempts
// per component; a component that exhausts its budget is marked crashed
// and left down.
package orchestrator

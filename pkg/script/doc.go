// Package script executes fire configuration scripts.
//
// # Overview
//
// Configuration scripts are Starlark programs written in the same vocabulary
// as the Python configuration API: a script constructs a Process, builds
// processors and conditions providers, and assigns them to the process. The
// evaluator returns the resulting *cfg.Process, ready for validation and
// dumping.
//
// # Vocabulary
//
// The predeclared fire module (also reachable as fire.cfg) provides Process,
// Processor, Producer, Analyzer, ConditionsProvider, OutputFile,
// DropKeepRule, and array_library. The ldmxcfg module provides the older
// names, including ConditionsObjectProvider. Both can also be imported with
// load:
//
//	load("fire", "Process", "Producer")
//
//	p = Process("test")
//	p.sequence = [Producer("gen", "fire::test::Generator", "TestModule", count = 3)]
//	p.output_file = "events.h5"
//	p.rnss.external(42)
//
// Assignments to legacy attribute names such as maxEvents, outputFiles, or
// keep are translated on the fly. p.input_files and p.sequence are live
// lists and may be appended to in place.
//
// # Evaluation
//
// Every evaluation runs against a fresh cfg.Session, so two scripts never
// share a process. Evaluations are bounded by a timeout and an optional step
// limit. Other files may be pulled in with load("common.star", ...) relative
// to the loading script; they share the evaluation's session.
//
// Watcher re-evaluates a script whenever it or one of its loaded files is
// written.
package script

// Package policy runs Open Policy Agent (OPA) preflight checks on a
// configured process before it is handed to the native executable.
//
// Policies are Rego modules whose package defines a deny set. Each entry of
// the set is either a string or an object with message, path, severity, and
// remediation fields. Violations at error or critical severity block the
// handoff; info and warning findings are reported but let it through.
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := engine.EvaluateProcess(ctx, process, &policy.Context{Operation: "dump"})
//	if err != nil {
//	    return err
//	}
//	for _, v := range result.Violations {
//	    fmt.Printf("%s: %s (%s)\n", v.Policy, v.Message, v.Path)
//	}
//
// The input document has three fields: process is the parameter dump,
// libraries is the ordered library list, and context describes the run of
// the tool.
//
// # Built-in Policies
//
//  1. sequence-required - the sequence may only be empty in testing mode
//  2. input-extension - input files must be .h5 or .root
//  3. regex-validity - drop/keep and listening patterns must compile
//  4. duplicate-processor - processor names should be unique
//  5. seed-mode - external seeding needs a master seed
//  6. production-limit - production runs need an event limit
//
// # Custom Policies
//
// Custom policies are loaded from .rego files, from JSON or YAML policy
// definitions, or from whole directories:
//
//	# Output files must be named after the pass.
//	# severity: error
//	package fire.policies.naming
//
//	import rego.v1
//
//	deny contains violation if {
//	    not startswith(input.process.output_file.name, input.process.pass_name)
//	    violation := {"message": "output file is not named after the pass", "path": "output_file.name"}
//	}
//
// A .rego file is named after its file name. Its leading comment block is
// the description, and a "severity:" line in that block sets the default
// severity (warning when absent).
//
// Engine.WatchPolicies reloads every policy when a watched file changes.
package policy

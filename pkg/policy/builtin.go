package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		sequenceRequiredPolicy(),
		inputExtensionPolicy(),
		regexValidityPolicy(),
		duplicateProcessorPolicy(),
		seedModePolicy(),
		productionLimitPolicy(),
	}
}

// sequenceRequiredPolicy rejects an empty sequence outside of testing.
func sequenceRequiredPolicy() Policy {
	return Policy{
		Name:        "sequence-required",
		Description: "A process must run at least one processor unless it is marked as testing",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"sequence"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fire.policies.sequence

import rego.v1

deny contains violation if {
	count(input.process.sequence) == 0
	not input.process.testing
	violation := {
		"message": "No sequence has been defined. What should I be doing?",
		"path": "sequence",
		"remediation": "Use p.sequence to tell me what processors to run.",
	}
}
`,
	}
}

// inputExtensionPolicy rejects input files no reader understands.
func inputExtensionPolicy() Policy {
	return Policy{
		Name:        "input-extension",
		Description: "Input files must be readable: .h5 files, or .root files when the ROOT reader is built",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"io"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fire.policies.input

import rego.v1

readable(name) if endswith(name, ".h5")

readable(name) if endswith(name, ".root")

deny contains violation if {
	some i
	name := input.process.input_files[i]
	not readable(name)
	violation := {
		"message": sprintf("Unrecognized extension for input file %s", [name]),
		"path": sprintf("input_files.%d", [i]),
		"remediation": "Only .h5 and .root input files can be read.",
	}
}

deny contains violation if {
	some i
	name := input.process.input_files[i]
	endswith(name, ".root")
	violation := {
		"message": sprintf("Input file %s needs the ROOT reader, which is an optional build component", [name]),
		"path": sprintf("input_files.%d", [i]),
		"severity": "info",
	}
}
`,
	}
}

// regexValidityPolicy rejects drop/keep and listening patterns that do not
// compile.
func regexValidityPolicy() Policy {
	return Policy{
		Name:        "regex-validity",
		Description: "Drop/keep rules and listening rules must be valid regular expressions",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"storage"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fire.policies.regex

import rego.v1

deny contains violation if {
	some i
	rule := input.process.drop_keep_rules[i]
	not regex.is_valid(rule.regex)
	violation := {
		"message": sprintf("Drop/keep rule pattern '%s' is not a valid regular expression", [rule.regex]),
		"path": sprintf("drop_keep_rules.%d.regex", [i]),
	}
}

deny contains violation if {
	some i
	rule := input.process.storage.listening_rules[i]
	some field in ["processor", "purpose"]
	not regex.is_valid(rule[field])
	violation := {
		"message": sprintf("Listening rule %s pattern '%s' is not a valid regular expression", [field, rule[field]]),
		"path": sprintf("storage.listening_rules.%d.%s", [i, field]),
	}
}
`,
	}
}

// duplicateProcessorPolicy flags processors sharing a name.
func duplicateProcessorPolicy() Policy {
	return Policy{
		Name:        "duplicate-processor",
		Description: "Processor names should be unique within the sequence",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"sequence"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fire.policies.duplicates

import rego.v1

deny contains violation if {
	some name in {p.name | some p in input.process.sequence}
	count([p | some p in input.process.sequence; p.name == name]) > 1
	violation := {
		"message": sprintf("Processor name '%s' is used more than once in the sequence", [name]),
		"path": "sequence",
		"remediation": "Storage listening rules and event objects are keyed by processor name.",
	}
}
`,
	}
}

// seedModePolicy flags external seeding without a seed.
func seedModePolicy() Policy {
	return Policy{
		Name:        "seed-mode",
		Description: "External seed mode needs a non-negative master seed",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"conditions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fire.policies.seeds

import rego.v1

deny contains violation if {
	input.process.rnss.seedMode == "external"
	input.process.rnss.seed < 0
	violation := {
		"message": sprintf("Seed mode is external but the master seed is %d", [input.process.rnss.seed]),
		"path": "rnss.seed",
		"remediation": "Use p.rnss.external(seed) to set both together.",
	}
}
`,
	}
}

// productionLimitPolicy flags production runs without an event limit.
func productionLimitPolicy() Policy {
	return Policy{
		Name:        "production-limit",
		Description: "Production mode (no input files) needs an event limit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"run"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fire.policies.production

import rego.v1

deny contains violation if {
	count(input.process.input_files) == 0
	input.process.event_limit < 0
	violation := {
		"message": "No input files and no event limit: production mode will not stop on its own",
		"path": "event_limit",
		"remediation": "Set p.event_limit or add input files.",
	}
}
`,
	}
}

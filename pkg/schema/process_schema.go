package schema

// builtinProcessSchema describes the parameter dump handed to the native
// executable.
const builtinProcessSchema = `
#Process: {
	// pass_name tags every output object
	pass_name: string & != ""

	// -1 for no limit
	event_limit: int & >=-1

	// attempts per event in production mode
	max_tries: int & >=1

	run:             int
	input_files:     [...string]
	output_file:     #OutputFile | null
	sequence:        [...#Processor]
	drop_keep_rules: [...#DropKeepRule]

	// shipped separately from the dump
	libraries?: [...string]

	storage:       #StorageControl
	log_frequency: int
	term_level:    #LogLevel
	file_level:    #LogLevel
	log_file:      string
	conditions:    #Conditions
	rnss?:         #RandomNumberSeedService
	testing:       bool
}

// 0 (debug) through 4 (fatal)
#LogLevel: int & >=0 & <=4

#OutputFile: {
	name:              string & != ""
	rows_per_chunk:    int & >0
	compression_level: int & >=0 & <=9
	shuffle:           bool
}

#Processor: {
	name:       string & != ""
	class_name: string & != ""
	...
}

#DropKeepRule: {
	keep:  bool
	regex: string
}

#ListeningRule: {
	processor: string
	purpose:   string
}

#StorageControl: {
	default_keep:    bool
	listening_rules: [...#ListeningRule]
}

#Provider: {
	obj_name:   string & != ""
	class_name: string & != ""
	tag_name:   string
	...
}

#RandomNumberSeedService: #Provider & {
	seedMode:  "run" | "external" | "time"
	seed:      int
	overrides: {[string]: int}
}

#Conditions: {
	global_tag: string
	providers:  [...#Provider]
}
`

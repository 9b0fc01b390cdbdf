// Package cfg is the configuration object model of a fire run.
//
// # Overview
//
// A run is described by one Process: the pass name, event limits, input and
// output files, the ordered sequence of processors, the conditions providers,
// and the storage (skim) and drop/keep policies. The native executable loads
// the libraries listed by the process, then builds every processor and
// provider by class name from the parameter dump.
//
// # Sessions
//
// A Session owns at most one Process. Processors and conditions providers are
// created through the session so they can make sure their library is loaded
// and, for providers, register themselves:
//
//	s := cfg.NewSession(logger)
//	p, err := s.NewProcess("sim")
//	if err != nil {
//	    return err
//	}
//	gen, err := s.NewProducer("gen", "sim::Generator", cfg.Source{Module: "Sim"}, nil)
//	if err != nil {
//	    return err
//	}
//	p.Sequence = []*cfg.Processor{gen}
//	p.OutputFile = cfg.NewOutputFile("sim.h5")
//
// Any registration made before NewProcess fails with ErrNoProcess and a
// second NewProcess fails with ErrProcessExists. Reset forgets the process.
//
// # Conditions
//
// Providers are unique by object name and class name; declaring an equal
// provider again replaces the earlier one in place. Every provider carries
// the global tag current at its registration, and SetConditionsGlobalTag
// retags all of them.
//
// # Legacy attribute names
//
// Process.SetAttr accepts the attribute names of older scripts (maxEvents,
// outputFiles, keep, ...) through TranslateLegacy, a pure translation table.
//
// # Dumping
//
// Every entity implements Describer. Process.ParameterDump walks the graph
// through Describe and leaves out the library list; Process.Handoff pairs the
// two for the native executable.
package cfg

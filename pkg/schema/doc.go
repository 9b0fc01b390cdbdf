// Package schema validates parameter dumps against CUE schemas.
//
// The built-in "process" schema describes every key the native executable
// reads from a dump: value ranges for the log levels, compression level, and
// event limit, the required names of processors and providers, and the
// allowed seed modes. Additional schemas may be registered at runtime.
//
//	registry := schema.NewRegistry()
//	if err := registry.ValidateDump(ctx, p.ParameterDump()); err != nil {
//	    var verr *schema.ValidationError
//	    if errors.As(err, &verr) {
//	        for _, issue := range verr.Issues {
//	            fmt.Println(issue)
//	        }
//	    }
//	}
package schema

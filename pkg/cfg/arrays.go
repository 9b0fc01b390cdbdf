package cfg

// ArrayLibrary selects the array flavour event objects are loaded into when
// reading fire files back for analysis.
type ArrayLibrary string

const (
	ArrayNumPy   ArrayLibrary = "np"
	ArrayAwkward ArrayLibrary = "ak"
	ArrayPandas  ArrayLibrary = "pd"
)

// ParseArrayLibrary resolves a library selection key.
func ParseArrayLibrary(key string) (ArrayLibrary, error) {
	switch lib := ArrayLibrary(key); lib {
	case ArrayNumPy, ArrayAwkward, ArrayPandas:
		return lib, nil
	}
	return "", NewSelectionError("arrays", key)
}

package cfg

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultGlobalTag is the conditions tag of a freshly constructed Process.
const DefaultGlobalTag = "Default"

// Provider is a registered conditions provider. Base exposes the identity
// shared by all providers; Describe may add type-specific fields.
type Provider interface {
	Describer
	Base() *ConditionsProvider
}

// ConditionsProvider configures a named source of run-dependent data.
type ConditionsProvider struct {
	// ObjName is the name of the object this provider provides.
	ObjName string `validate:"required"`

	// ClassName is the fully qualified native class.
	ClassName string `validate:"required"`

	// TagName identifies the generation of conditions data. It is set to the
	// process global tag on registration.
	TagName string

	// Params are the extra parameters handed to the native class.
	Params Params
}

// Base implements Provider.
func (cp *ConditionsProvider) Base() *ConditionsProvider {
	return cp
}

// SetTag sets the generation tag.
func (cp *ConditionsProvider) SetTag(tag string) {
	cp.TagName = tag
}

// Equal reports provider identity: same object name and class name.
func (cp *ConditionsProvider) Equal(other *ConditionsProvider) bool {
	if other == nil {
		return false
	}
	return cp.ObjName == other.ObjName && cp.ClassName == other.ClassName
}

// Describe implements Describer.
func (cp *ConditionsProvider) Describe() map[string]any {
	out := cp.Params.Describe()
	out["obj_name"] = cp.ObjName
	out["class_name"] = cp.ClassName
	out["tag_name"] = cp.TagName
	return out
}

// Repr is the one-line representation.
func (cp *ConditionsProvider) Repr() string {
	return fmt.Sprintf("ConditionsProvider(%s providing %s)", cp.ClassName, cp.ObjName)
}

func (cp *ConditionsProvider) String() string {
	return cp.Repr() + formatParamsBlock(&cp.Params)
}

// Conditions is the configuration of the central conditions system.
type Conditions struct {
	GlobalTag string `validate:"required"`
	Providers []Provider
}

// NewConditions returns an empty provider list under the default tag.
func NewConditions() *Conditions {
	return &Conditions{GlobalTag: DefaultGlobalTag}
}

// declare tags cp with the global tag, then replaces an equal provider in
// place or appends.
func (c *Conditions) declare(cp Provider) {
	cp.Base().SetTag(c.GlobalTag)
	for i, existing := range c.Providers {
		if existing.Base().Equal(cp.Base()) {
			c.Providers[i] = cp
			return
		}
	}
	c.Providers = append(c.Providers, cp)
}

// setGlobalTag updates the tag and propagates it to registered providers.
func (c *Conditions) setGlobalTag(tag string) {
	c.GlobalTag = tag
	for _, cp := range c.Providers {
		cp.Base().SetTag(tag)
	}
}

// Find returns the provider with the given identity.
func (c *Conditions) Find(objName, className string) (Provider, bool) {
	probe := &ConditionsProvider{ObjName: objName, ClassName: className}
	for _, cp := range c.Providers {
		if cp.Base().Equal(probe) {
			return cp, true
		}
	}
	return nil, false
}

// Describe implements Describer.
func (c *Conditions) Describe() map[string]any {
	providers := make([]any, len(c.Providers))
	for i, cp := range c.Providers {
		providers[i] = cp.Describe()
	}
	return map[string]any{
		"global_tag": c.GlobalTag,
		"providers":  providers,
	}
}

func (c *Conditions) String() string {
	reprs := make([]string, len(c.Providers))
	for i, cp := range c.Providers {
		reprs[i] = providerRepr(cp)
	}
	return fmt.Sprintf("Conditions(tag = %s)\n [%s]", c.GlobalTag, strings.Join(reprs, ", "))
}

func providerRepr(cp Provider) string {
	if r, ok := cp.(interface{ Repr() string }); ok {
		return r.Repr()
	}
	return cp.Base().Repr()
}

// Seed modes of the RandomNumberSeedService.
const (
	SeedModeRun      = "run"
	SeedModeExternal = "external"
	SeedModeTime     = "time"
)

// RandomNumberSeedService provides random number seeds in a deterministic
// way. Every Process registers one as its first conditions provider.
type RandomNumberSeedService struct {
	ConditionsProvider

	// SeedMode is one of run, external, or time.
	SeedMode string `validate:"oneof=run external time"`

	// Seed is the master seed, only used in external mode.
	Seed int

	// Overrides pins the seed handed out for specific names.
	Overrides map[string]int
}

const (
	rnssObjName   = "RandomNumberSeedService"
	rnssClassName = "fire::RandomNumberSeedService"
	rnssModule    = "fire::framework"
)

func newRandomNumberSeedService() *RandomNumberSeedService {
	r := &RandomNumberSeedService{
		ConditionsProvider: ConditionsProvider{
			ObjName:   rnssObjName,
			ClassName: rnssClassName,
		},
		Seed:      -1,
		Overrides: make(map[string]int),
	}
	r.Run()
	return r
}

// Run bases seeds off of the run number.
func (r *RandomNumberSeedService) Run() {
	r.SeedMode = SeedModeRun
}

// External uses seed as the master random number seed.
func (r *RandomNumberSeedService) External(seed int) {
	r.SeedMode = SeedModeExternal
	r.Seed = seed
}

// Time bases the master seed off of the wall clock at run start.
func (r *RandomNumberSeedService) Time() {
	r.SeedMode = SeedModeTime
}

// Override pins the seed for a specific name.
func (r *RandomNumberSeedService) Override(name string, seed int) {
	if r.Overrides == nil {
		r.Overrides = make(map[string]int)
	}
	r.Overrides[name] = seed
}

// Describe implements Describer.
func (r *RandomNumberSeedService) Describe() map[string]any {
	out := r.ConditionsProvider.Describe()
	overrides := make(map[string]any, len(r.Overrides))
	for k, v := range r.Overrides {
		overrides[k] = v
	}
	out["seedMode"] = r.SeedMode
	out["seed"] = r.Seed
	out["overrides"] = overrides
	return out
}

// Repr is the one-line representation.
func (r *RandomNumberSeedService) Repr() string {
	return fmt.Sprintf("RandomNumberSeedService(%s providing %s)", r.ClassName, r.ObjName)
}

func (r *RandomNumberSeedService) String() string {
	msg := fmt.Sprintf("%s\n  Parameters:\n   seedMode : '%s'\n   seed : %d", r.Repr(), r.SeedMode, r.Seed)
	if len(r.Overrides) > 0 {
		names := make([]string, 0, len(r.Overrides))
		for k := range r.Overrides {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			msg += fmt.Sprintf("\n   override %s : %d", k, r.Overrides[k])
		}
	}
	return msg
}

package config

// Depth is the requested analysis depth of a task.
type Depth string

// Analysis depths.
const (
	DepthStandard  Depth = "standard"
	DepthDeep      Depth = "deep"
	DepthLegendary Depth = "legendary"
)

// ValidDepth reports whether d is a known depth.
func ValidDepth(d Depth) bool {
	switch d {
	case DepthStandard, DepthDeep, DepthLegendary:
		return true
	}
	return false
}

// Complexity is the classifier's routing decision for a run.
type Complexity string

// Routing complexities.
const (
	ComplexitySimple   Complexity = "simple"
	ComplexityMedium   Complexity = "medium"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// ValidComplexity reports whether c is a known complexity.
func ValidComplexity(c Complexity) bool {
	switch c {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex, ComplexityCritical:
		return true
	}
	return false
}

// AccessLevel classifies who may read a registered query's output.
type AccessLevel string

// Access levels for catalog entries.
const (
	AccessPublic       AccessLevel = "public"
	AccessRestricted   AccessLevel = "restricted"
	AccessConfidential AccessLevel = "confidential"
)

// ValidAccessLevel reports whether a is a known access level.
func ValidAccessLevel(a AccessLevel) bool {
	switch a {
	case AccessPublic, AccessRestricted, AccessConfidential:
		return true
	}
	return false
}

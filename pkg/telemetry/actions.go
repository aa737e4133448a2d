package telemetry

type ActionCategory int

const (
	Building ActionCategory = iota
	Fuzzing
	Testing
	Minimizing
	CoverageCollection
)

func (a ActionCategory) String() string {
	switch a {
	case Building:
		return "building"
	case Fuzzing:
		return "fuzzing"
	case Testing:
		return "testing"
	case Minimizing:
		return "minimizing"
	case CoverageCollection:
		return "coverage_collection"
	default:
		return "unknown"
	}
}

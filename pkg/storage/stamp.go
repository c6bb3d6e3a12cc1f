package storage

// BuildStamp is the 16-byte block written at the head of every binary
// artifact. Artifacts written by one build are rejected by a build with an
// incompatible layout; a differing Minor is accepted.
type BuildStamp struct {
	Magic         [4]byte
	Major         uint8
	Minor         uint8
	StructVersion uint16
	_             [8]byte
}

var stampMagic = [4]byte{'O', 'S', 'R', 'P'}

// Format version constants. Major changes whenever a record layout breaks
// compatibility; StructVersion is bumped together with any serialized
// struct definition.
const (
	stampMajor         = 1
	stampMinor         = 0
	stampStructVersion = 3
)

// CurrentStamp returns the stamp of this build.
func CurrentStamp() BuildStamp {
	return BuildStamp{
		Magic:         stampMagic,
		Major:         stampMajor,
		Minor:         stampMinor,
		StructVersion: stampStructVersion,
	}
}

// TestPrepare reports whether an artifact stamped with other can be used by
// this build. Minor version skew is tolerated; everything else must match.
func (s BuildStamp) TestPrepare(other BuildStamp) bool {
	return s.Magic == other.Magic &&
		s.Major == other.Major &&
		s.StructVersion == other.StructVersion
}

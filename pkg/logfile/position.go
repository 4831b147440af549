package logfile

import "fmt"

// Position identifies an exact location in the versioned log stream.
type Position struct {
	Version uint64
	Offset  uint64
}

// Compare orders positions by (version, offset).
func (p Position) Compare(other Position) int {
	switch {
	case p.Version < other.Version:
		return -1
	case p.Version > other.Version:
		return 1
	case p.Offset < other.Offset:
		return -1
	case p.Offset > other.Offset:
		return 1
	default:
		return 0
	}
}

func (p Position) String() string {
	return fmt.Sprintf("LogPosition{version=%d, offset=%d}", p.Version, p.Offset)
}

//go:build !windows

package axl

// Load reports the library as unavailable; AXL.dll only exists on
// Windows.
func Load() (Library, error) {
	return nil, ErrUnavailable
}

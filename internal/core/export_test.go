package core

// SetRename replaces the function that moves artifacts into place and
// returns a func restoring the previous one.
func SetRename(f func(oldpath, newpath string) error) (restore func()) {
	prev := rename
	rename = f
	return func() { rename = prev }
}

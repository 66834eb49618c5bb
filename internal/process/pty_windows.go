//go:build windows

package process

// PTYSpawner needs ConPTY, which the pty library does not expose in the
// pinned release; spawns fail with ErrUnsupported until it does.
type PTYSpawner struct{}

func (PTYSpawner) Spawn(opts SpawnOptions) (Native, error) {
	return nil, ErrUnsupported
}

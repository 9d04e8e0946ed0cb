//go:build !unix

package daemon

func detach([]string) (int, error) {
	return 0, ErrUnsupported
}

func prepare() error {
	return ErrUnsupported
}

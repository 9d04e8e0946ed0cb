//go:build !linux

package service

func isRootImpl() bool {
	return false
}

func installImpl(ServiceConfig, string) error {
	return ErrUnsupported
}

func uninstallImpl(ServiceConfig) error {
	return ErrUnsupported
}

func statusImpl(string) (string, error) {
	return "", ErrUnsupported
}

func isInstalledImpl(string) bool {
	return false
}

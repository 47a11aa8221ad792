//go:build !linux

package i2c

func classifyErrno(err error) error {
	return nil
}

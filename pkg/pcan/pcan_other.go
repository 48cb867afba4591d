//go:build !windows

package pcan

import (
	"errors"

	"github.com/roffe/canflash"
)

// New always fails: PCAN-Basic is only available as a Windows DLL.
func New(*canflash.DriverConfig) (canflash.Driver, error) {
	return nil, errors.New("pcan: PCAN-Basic is only supported on windows")
}

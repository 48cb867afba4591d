//go:build !linux

package socketcan

import (
	"errors"

	"github.com/roffe/canflash"
)

func New(*canflash.DriverConfig) (canflash.Driver, error) {
	return nil, errors.New("socketcan: only supported on linux")
}

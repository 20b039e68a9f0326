//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// Only the default adapter is addressable outside BlueZ.
func newAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}

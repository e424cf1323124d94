//go:build !linux

package ble

import "github.com/fako1024/gatt"

var defaultBTClientOptions []gatt.Option

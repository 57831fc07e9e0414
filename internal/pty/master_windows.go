//go:build windows

package pty

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("pty is not supported on windows")

func pollable(master *os.File) (*os.File, error) { return master, nil }

func setWinsize(*os.File, uint16, uint16) error { return errUnsupported }

func getWinsize(*os.File) (uint16, uint16, error) { return 0, 0, errUnsupported }

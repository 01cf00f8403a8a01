// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Defaults(t *testing.T) {
	cmd := newRootCommand()

	host, err := cmd.Flags().GetString("host")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)

	port, err := cmd.Flags().GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 2947, port)

	duration, err := cmd.Flags().GetInt("duration")
	require.NoError(t, err)
	assert.Equal(t, 30, duration)
}

func TestRootCommand_RejectsBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"--duration", "0"},
		{"--log-level", "loud"},
		{"extra-arg"},
	} {
		cmd := newRootCommand()
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), args)
	}
}

func TestRootCommand_FailsWhenGPSDIsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--host", "127.0.0.1", "--port", strconv.Itoa(port), "--duration", "1", "--log-level", "error"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNoFix)
}

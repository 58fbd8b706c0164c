// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	_, err = NewClient(&NatsConfig{})
	require.Error(t, err)
}

func TestNewClientRejectsUnreachableServerQuickly(t *testing.T) {
	// nats.go's default connect timeout is a few seconds and fails fast
	// for a connection refused on localhost, exercising NewClient's
	// error-wrapping path without requiring a running NATS server.
	_, err := NewClient(&NatsConfig{Address: "nats://127.0.0.1:1"})
	require.Error(t, err)
}

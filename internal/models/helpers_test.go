// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proninyaroslav/libretorrent/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}
